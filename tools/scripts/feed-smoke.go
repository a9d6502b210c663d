// Package main provides a CI-friendly smoke test for the doodle control API.
//
// It validates:
//   - readiness after initial feed load
//   - state fetch
//   - draft staging and can_send derivation
//   - optimistic send -> confirmed record in the timeline
//   - scroll_to_latest acknowledgement
//   - viewport bookkeeping (unread_count resets at bottom)
//   - load-older paging
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxReadBytes = 1 << 20 // 1MiB

// view mirrors the control API state document.
type view struct {
	Status         string    `json:"status"`
	Draft          string    `json:"draft"`
	Messages       []message `json:"messages"`
	Error          string    `json:"error"`
	HasOlder       bool      `json:"has_older"`
	IsSending      bool      `json:"is_sending"`
	IsLoadingOlder bool      `json:"is_loading_older"`
	UnreadCount    int       `json:"unread_count"`
	CanSend        bool      `json:"can_send"`
	ScrollToLatest bool      `json:"scroll_to_latest"`
}

type message struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
	Pending   bool   `json:"pending"`
	Failed    bool   `json:"failed"`
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8090", "Control API base URL")
		text    = flag.String("text", "hello doodle 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		older   = flag.Bool("older", false, "Also exercise load-older paging")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	base := strings.TrimRight(*baseURL, "/")

	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	mustWaitReady(root, hc, base, *timeout)

	v := mustState(root, hc, base, *timeout)
	if v.Status != "ready" {
		fatalf("status: got=%q want=%q (error=%q)", v.Status, "ready", v.Error)
	}
	if *verbose {
		fmt.Printf("ready: messages=%d has_older=%v unread=%d\n", len(v.Messages), v.HasOlder, v.UnreadCount)
	}

	v = mustPost(root, hc, base, "/v1/draft", fmt.Sprintf(`{"draft":%q}`, *text), *timeout)
	if v.Draft != *text {
		fatalf("draft: got=%q want=%q", v.Draft, *text)
	}
	if !v.CanSend {
		fatalf("can_send false after staging a draft (error=%q)", v.Error)
	}

	before := len(v.Messages)
	v = mustPost(root, hc, base, "/v1/send", "", *timeout)
	if v.Draft != "" {
		fatalf("draft not cleared after send: %q", v.Draft)
	}

	mustConfirm(root, hc, base, *text, *timeout)
	if *verbose {
		fmt.Printf("send confirmed: timeline %d -> at least %d\n", before, before+1)
	}

	v = mustPost(root, hc, base, "/v1/scroll-ack", "", *timeout)
	if v.ScrollToLatest {
		fatalf("scroll_to_latest still set after ack")
	}

	v = mustPost(root, hc, base, "/v1/viewport", `{"at_bottom":true}`, *timeout)
	if v.UnreadCount != 0 {
		fatalf("unread_count not reset at bottom: %d", v.UnreadCount)
	}

	if *older && v.HasOlder {
		got := len(v.Messages)
		v = mustPost(root, hc, base, "/v1/older", "", *timeout)
		if len(v.Messages) < got {
			fatalf("load-older shrank the timeline: %d -> %d", got, len(v.Messages))
		}
		if *verbose {
			fmt.Printf("load-older: timeline %d -> %d has_older=%v\n", got, len(v.Messages), v.HasOlder)
		}
	}

	fmt.Printf("OK: messages=%d has_older=%v\n", len(v.Messages), v.HasOlder)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustWaitReady(parent context.Context, hc *http.Client, base string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/readyz", nil)
		if err != nil {
			fatalf("build readyz request: %v", err)
		}
		resp, err := hc.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReadBytes))
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}

		select {
		case <-ctx.Done():
			fatalf("timeout waiting for readiness: %v", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func mustState(parent context.Context, hc *http.Client, base string, stepTimeout time.Duration) view {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/state", nil)
	if err != nil {
		fatalf("build state request: %v", err)
	}
	return mustView(hc, req, "/v1/state")
}

func mustPost(parent context.Context, hc *http.Client, base, path, body string, stepTimeout time.Duration) view {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, strings.NewReader(body))
	if err != nil {
		fatalf("build %s request: %v", path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		// Re-read state for endpoints that return no body.
		return mustState(parent, hc, base, stepTimeout)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
		fatalf("%s: status=%d body=%s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var v view
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(&v); err != nil {
		fatalf("decode %s response: %v", path, err)
	}
	return v
}

func mustView(hc *http.Client, req *http.Request, path string) view {
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
		fatalf("%s: status=%d body=%s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var v view
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReadBytes)).Decode(&v); err != nil {
		fatalf("decode %s response: %v", path, err)
	}
	return v
}

// mustConfirm polls until the sent text appears as a settled record,
// neither pending nor failed. The engine swaps the optimistic entry for
// the server record once the post round-trips.
func mustConfirm(parent context.Context, hc *http.Client, base, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		v := mustState(parent, hc, base, stepTimeout)
		for _, m := range v.Messages {
			if m.Message == text && !m.Pending {
				if m.Failed {
					fatalf("send marked failed: id=%s (error=%q)", m.ID, v.Error)
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			fatalf("timeout waiting for send confirmation: %v", ctx.Err())
		case <-time.After(150 * time.Millisecond):
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
