package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flowzap/flowzap/pkg/models"
	"github.com/flowzap/flowzap/pkg/session"
	"github.com/flowzap/flowzap/pkg/template"
)

// maxResponseBytes caps how much of an HTTP node's response body gets bound
// into session variables and the audit log.
const maxResponseBytes = 64 * 1024

// execHTTP performs the http node's outbound call. URL and payload are
// rendered against the session variables; a non-2xx status or a transport
// error fails the step and errors the session.
func (e *Engine) execHTTP(ctx context.Context, sess *models.Session, node *models.Node) error {
	cfg := node.Config.HTTP

	url, err := template.Render(cfg.URL, sess.Variables)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "http", nil, err)
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var payload string

	if cfg.Payload != "" {
		payload, err = template.Render(cfg.Payload, sess.Variables)
		if err != nil {
			return e.failStep(ctx, sess, node.ID, "http", map[string]any{"url": url, "method": method}, err)
		}
	}

	content := map[string]any{"url": url, "method": method}

	var body io.Reader
	if payload != "" {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "http", content, err)
	}

	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "http", content, err)
	}

	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return e.failStep(ctx, sess, node.ID, "http", content, err)
	}

	content["status_code"] = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return e.failStep(ctx, sess, node.ID, "http", content,
			fmt.Errorf("request to %s returned status %d", url, resp.StatusCode))
	}

	if cfg.ResponseVar != "" {
		session.Bind(sess, cfg.ResponseVar, string(responseBody))
		content["response_var"] = cfg.ResponseVar
	}

	return e.saveStep(ctx, sess, node, models.DirectionOutbound, "http", content)
}
