package influx

import (
	influxmodels "github.com/influxdata/influxdb1-client/models"
	client "github.com/influxdata/influxdb1-client/v2"

	"influxq/internal/models"
)

// FromResponse flattens every result of a response into Records
func FromResponse(resp *client.Response) []models.Record {
	if resp == nil {
		return nil
	}

	var records []models.Record
	for _, result := range resp.Results {
		for _, row := range result.Series {
			records = append(records, FromRow(row))
		}
	}
	return records
}

// FromRow converts one series into the record shape
// {name, tags, values: [{column: value}, ...]}
func FromRow(row influxmodels.Row) models.Record {
	tags := make(map[string]any, len(row.Tags))
	for k, v := range row.Tags {
		tags[k] = v
	}

	values := make([]any, 0, len(row.Values))
	for _, point := range row.Values {
		entry := make(map[string]any, len(row.Columns))
		for i, col := range row.Columns {
			if i < len(point) {
				entry[col] = point[i]
			} else {
				entry[col] = nil
			}
		}
		values = append(values, entry)
	}

	return models.NewRecord(map[string]any{
		"name":   row.Name,
		"tags":   tags,
		"values": values,
	})
}
