package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

func TestHostSet(t *testing.T) {
	s := NewHostSet([]string{"web1", "", "db1", "web1"})

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if !s.Contains("db1") || s.Contains("") || s.Contains("web2") {
		t.Error("unexpected membership")
	}

	hosts := s.Hosts()
	if len(hosts) != 2 || hosts[0] != "web1" || hosts[1] != "db1" {
		t.Errorf("Hosts() = %v", hosts)
	}

	// Mutating the copy leaves the set intact
	hosts[0] = "changed"
	if s.Hosts()[0] != "web1" {
		t.Error("HostSet must be immutable")
	}

	var zero HostSet
	if zero.Len() != 0 || zero.Contains("web1") {
		t.Error("zero HostSet should be empty")
	}
}

func TestFetchStatic(t *testing.T) {
	s, err := Fetch(context.Background(), Static{"a", "b", "a"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func sensuFor(t *testing.T, srv *httptest.Server, user, password string) *SensuDirectory {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return NewSensuDirectory(SensuConfig{Host: host, Port: port, User: user, Password: password})
}

func TestSensuListHosts(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clients" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		gotUser, gotPass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"name": "web1", "address": "10.0.0.1", "subscriptions": []string{"web"}},
			{"name": "db1", "address": "10.0.0.2"},
		})
	}))
	defer srv.Close()

	hosts, err := sensuFor(t, srv, "admin", "secret").ListHosts(context.Background())
	if err != nil {
		t.Fatalf("ListHosts() error = %v", err)
	}
	if len(hosts) != 2 || hosts[0] != "web1" || hosts[1] != "db1" {
		t.Errorf("ListHosts() = %v", hosts)
	}
	if gotUser != "admin" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q", gotUser, gotPass)
	}
}

func TestSensuListHostsErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non 200", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := sensuFor(t, srv, "", "").ListHosts(context.Background())
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("ListHosts() error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestSensuUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	d := sensuFor(t, srv, "", "")
	srv.Close()

	if _, err := d.ListHosts(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ListHosts() error = %v, want ErrUnavailable", err)
	}
}

func consulServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Consul-Index", "1")
		w.Header().Set("X-Consul-LastContact", "0")
		w.Header().Set("X-Consul-KnownLeader", "true")

		switch r.URL.Path {
		case "/v1/catalog/datacenters":
			_ = json.NewEncoder(w).Encode([]string{"dc1", "dc2"})
		case "/v1/catalog/nodes":
			nodes := map[string][]map[string]string{
				"dc1": {{"Node": "web1", "Address": "10.0.0.1"}},
				"dc2": {{"Node": "web2", "Address": "10.1.0.1"}, {"Node": "db1", "Address": "10.1.0.2"}},
			}
			_ = json.NewEncoder(w).Encode(nodes[r.URL.Query().Get("dc")])
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsulListHosts(t *testing.T) {
	srv := consulServer(t)

	d, err := NewConsulDirectory(ConsulConfig{Address: srv.Listener.Addr().String()})
	if err != nil {
		t.Fatalf("NewConsulDirectory() error = %v", err)
	}

	hosts, err := d.ListHosts(context.Background())
	if err != nil {
		t.Fatalf("ListHosts() error = %v", err)
	}
	want := []string{"web1", "web2", "db1"}
	if len(hosts) != len(want) {
		t.Fatalf("ListHosts() = %v, want %v", hosts, want)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Errorf("hosts[%d] = %q, want %q", i, hosts[i], want[i])
		}
	}
}

func TestConsulExplicitDatacenters(t *testing.T) {
	srv := consulServer(t)

	d, err := NewConsulDirectory(ConsulConfig{
		Address:     srv.Listener.Addr().String(),
		Datacenters: []string{"dc1"},
	})
	if err != nil {
		t.Fatalf("NewConsulDirectory() error = %v", err)
	}

	hosts, err := d.ListHosts(context.Background())
	if err != nil {
		t.Fatalf("ListHosts() error = %v", err)
	}
	if len(hosts) != 1 || hosts[0] != "web1" {
		t.Errorf("ListHosts() = %v", hosts)
	}
}
