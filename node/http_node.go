package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/marchworks/dealflow/model"
)

const maxResponseBytes = 10 << 20

var _ Node = new(httpNode)

type httpNode struct {
	baseNode
	client *http.Client
}

func NewHttpNode(base baseNode, client *http.Client) *httpNode {
	if client == nil {
		client = &http.Client{}
	}
	return &httpNode{
		baseNode: base,
		client:   client,
	}
}

func (n *httpNode) Validate() error {
	var config model.HttpCallConfig
	if err := n.decodeRawConfig(&config); err != nil {
		return err
	}
	if len(config.Url) == 0 {
		return model.ValidationError{NodeId: n.id, Message: "url can not be empty"}
	}
	return nil
}

func (n *httpNode) Execute(ctx context.Context, execution *Execution) (string, map[string]any, error) {
	var config model.HttpCallConfig
	if err := n.resolvedConfig(execution, &config); err != nil {
		return "", nil, err
	}
	method := strings.ToUpper(config.Method)
	if len(method) == 0 {
		method = http.MethodGet
	}
	var body io.Reader
	if len(config.Body) != 0 {
		body = strings.NewReader(config.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, config.Url, body)
	if err != nil {
		return "", nil, model.UpstreamHttpError{Url: config.Url, Message: err.Error()}
	}
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return "", nil, model.UpstreamHttpError{Url: config.Url, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", nil, model.UpstreamHttpError{Url: config.Url, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, model.UpstreamHttpError{Url: config.Url, StatusCode: resp.StatusCode}
	}
	output := map[string]any{
		"status": resp.StatusCode,
		"body":   string(raw),
	}
	var parsed any
	if json.Unmarshal(raw, &parsed) == nil {
		output["json"] = parsed
	}
	execution.Store.MergeOutput(n.id+"_output", output)
	return DEFAULT_HANDLE, output, nil
}
