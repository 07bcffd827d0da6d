// Package probe checks that deployed nodes are up: the blockchain HTTP API
// answers with its info document and the database port accepts connections.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/3cpo-dev/chaindeploy/internal/inventory"
	"github.com/3cpo-dev/chaindeploy/internal/telemetry"
)

// Info is the document served at the root of the node API.
type Info struct {
	Software    string   `json:"software"`
	Version     string   `json:"version"`
	PublicKey   string   `json:"public_key"`
	Keyring     []string `json:"keyring"`
	APIEndpoint string   `json:"api_endpoint"`
}

type Result struct {
	Host    inventory.Host
	Info    *Info
	Latency time.Duration
	APIErr  error
	DBErr   error
}

func (r Result) Healthy() bool { return r.APIErr == nil && r.DBErr == nil }

type Prober struct {
	HTTP    *RetryableHTTPClient
	APIPort int
	APIPath string
	DBPort  int
	Timeout time.Duration
}

func New(apiPort int, apiPath string, dbPort int, timeout time.Duration) *Prober {
	return &Prober{
		HTTP:    NewRetryableHTTPClient(timeout, DefaultRetryConfig()),
		APIPort: apiPort,
		APIPath: apiPath,
		DBPort:  dbPort,
		Timeout: timeout,
	}
}

// Info fetches the node info document from addr.
func (p *Prober) Info(ctx context.Context, addr string) (*Info, error) {
	url := "http://" + net.JoinHostPort(addr, strconv.Itoa(p.APIPort)) + p.APIPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode info from %s: %w", url, err)
	}
	return &info, nil
}

// CheckDB dials the database port.
func (p *Prober) CheckDB(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(p.DBPort)))
	if err != nil {
		return fmt.Errorf("database port: %w", err)
	}
	return conn.Close()
}

func (p *Prober) Probe(ctx context.Context, host inventory.Host) Result {
	start := time.Now()
	res := Result{Host: host}
	res.Info, res.APIErr = p.Info(ctx, host.Addr)
	res.Latency = time.Since(start)
	res.DBErr = p.CheckDB(ctx, host.Addr)
	if !res.Healthy() {
		telemetry.AddGlobal("chaindeploy_probe_failures", 1, map[string]string{"host": host.Name})
	}
	return res
}

// ProbeAll probes every host with at most concurrency probes in flight.
// Results keep the order of hosts.
func (p *Prober) ProbeAll(ctx context.Context, hosts []inventory.Host, concurrency int) []Result {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]Result, len(hosts))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, h := range hosts {
		i, h := i, h
		g.Go(func() error {
			results[i] = p.Probe(ctx, h)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
