package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"kvharness/internal/generator"
	"kvharness/internal/history"
)

// HTTPAdapter talks to the reference register service (or anything wire
// compatible with it) over HTTP. One adapter per lane, each with its own
// http.Client so connection state is never shared.
type HTTPAdapter struct {
	base string
	hc   *http.Client
}

func NewHTTPAdapter(baseURL string) *HTTPAdapter {
	return &HTTPAdapter{base: baseURL}
}

func (a *HTTPAdapter) Open(ctx context.Context) error {
	a.hc = &http.Client{}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "http adapter open")
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "http adapter: backend at %s unreachable", a.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("http adapter: health check returned %d", resp.StatusCode)
	}
	return nil
}

func (a *HTTPAdapter) Setup(context.Context) error    { return nil }
func (a *HTTPAdapter) Teardown(context.Context) error { return nil }

func (a *HTTPAdapter) Close() error {
	if a.hc != nil {
		a.hc.CloseIdleConnections()
	}
	return nil
}

type registerValue struct {
	Value *int `json:"value"`
}

type casRequest struct {
	Expected int `json:"expected"`
	New      int `json:"new"`
}

func (a *HTTPAdapter) Invoke(ctx context.Context, inv generator.Invocation) Result {
	switch inv.Func {
	case history.FuncRead:
		return a.read(ctx, inv.Key)
	case history.FuncWrite:
		return a.write(ctx, inv.Key, inv.Value)
	case history.FuncCAS:
		return a.cas(ctx, inv)
	}
	return Result{Outcome: history.OutcomeFail, Err: errUnknownFunc(inv.Func)}
}

func (a *HTTPAdapter) read(ctx context.Context, key int) Result {
	resp, err := a.do(ctx, http.MethodGet, fmt.Sprintf("/register/%d", key), nil)
	if err != nil {
		return Result{Outcome: history.OutcomeFail, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{Outcome: history.OutcomeFail, Err: statusErr(resp)}
	}
	var rv registerValue
	if err := json.NewDecoder(resp.Body).Decode(&rv); err != nil {
		return Result{Outcome: history.OutcomeFail, Err: errors.Wrap(err, "decode read response")}
	}
	return Result{Outcome: history.OutcomeOk, Value: rv.Value}
}

func (a *HTTPAdapter) write(ctx context.Context, key, val int) Result {
	resp, err := a.do(ctx, http.MethodPut, fmt.Sprintf("/register/%d", key), registerValue{Value: intp(val)})
	if err != nil {
		return Result{Outcome: history.OutcomeInfo, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return Result{Outcome: history.OutcomeOk}
	case resp.StatusCode < 500:
		// The backend rejected the request outright: proven non-effect.
		return Result{Outcome: history.OutcomeFail, Err: statusErr(resp)}
	default:
		return Result{Outcome: history.OutcomeInfo, Err: statusErr(resp)}
	}
}

func (a *HTTPAdapter) cas(ctx context.Context, inv generator.Invocation) Result {
	body := casRequest{Expected: inv.Expected, New: inv.New}
	resp, err := a.do(ctx, http.MethodPost, fmt.Sprintf("/register/%d/cas", inv.Key), body)
	if err != nil {
		return Result{Outcome: history.OutcomeInfo, Err: err}
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return Result{Outcome: history.OutcomeOk}
	case resp.StatusCode == http.StatusConflict:
		// Compare failed: a definite outcome, not an error.
		return Result{Outcome: history.OutcomeFail}
	case resp.StatusCode < 500:
		return Result{Outcome: history.OutcomeFail, Err: statusErr(resp)}
	default:
		return Result{Outcome: history.OutcomeInfo, Err: statusErr(resp)}
	}
}

func (a *HTTPAdapter) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, errors.Mark(err, ErrUnavailable)
	}
	return resp, nil
}

func statusErr(resp *http.Response) error {
	return errors.Newf("backend returned %s", resp.Status)
}

// HTTPPartitioner drives the reference service's partition control
// endpoint; it is the nemesis injector for the http backend.
type HTTPPartitioner struct {
	Base string
	hc   http.Client
}

func (p *HTTPPartitioner) Start(ctx context.Context) error {
	return p.toggle(ctx, http.MethodPost)
}

func (p *HTTPPartitioner) Stop(ctx context.Context) error {
	return p.toggle(ctx, http.MethodDelete)
}

func (p *HTTPPartitioner) toggle(ctx context.Context, method string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, p.Base+"/partition", nil)
	if err != nil {
		return errors.Wrap(err, "partition control")
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "partition control")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Newf("partition control returned %s", resp.Status)
	}
	return nil
}
