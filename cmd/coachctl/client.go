package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(apiFlag, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Content-Type", "application/json")
}

// appPath builds "/api/apps/{app}" followed by escaped segments.
func appPath(segments ...string) string {
	var b strings.Builder
	b.WriteString("/api/apps/")
	b.WriteString(url.PathEscape(appFlag))
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

// call sends the request and prints the body. Non-2xx responses are errors.
func call(out io.Writer, method, path string, body interface{}) error {
	req := newClient().R()
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(resp.Body()) == 0 {
		_, _ = fmt.Fprintln(out, resp.Status())
		return nil
	}
	_, _ = fmt.Fprintln(out, strings.TrimSpace(resp.String()))
	return nil
}
