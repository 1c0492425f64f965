package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"contest_judge/internal/app/service"
	"contest_judge/internal/common/security"
	"contest_judge/internal/domain/model"
)

// HTTPJudgeClient posts evaluation requests to a judge node, signed with
// the node's shared secret.
type HTTPJudgeClient struct {
	client *http.Client
	now    func() time.Time
}

func NewHTTPJudgeClient(timeout time.Duration) *HTTPJudgeClient {
	return &HTTPJudgeClient{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

func (c *HTTPJudgeClient) Evaluate(ctx context.Context, node model.EvaluateNode, req service.JudgeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal judge request: %w", err)
	}

	url := strings.TrimRight(node.BaseURL, "/") + "/evaluate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build judge request: %w", err)
	}

	ts := c.now().Unix()
	hash := security.HashBytes(body)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(security.HeaderTimestamp, strconv.FormatInt(ts, 10))
	httpReq.Header.Set(security.HeaderContentHash, hash)
	httpReq.Header.Set(security.HeaderSignature, security.Sign(node.SharedSecret, ts, hash))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("judge %s unreachable: %w", node.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("judge %s returned status %d: %s", node.ID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
