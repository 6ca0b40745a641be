package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marchworks/dealflow/model"
	"github.com/marchworks/dealflow/sandbox"
	"github.com/marchworks/dealflow/variables"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	channel string
	to      string
	text    string
}

func (m *fakeMessenger) Send(channel string, to string, text string) error {
	m.channel = channel
	m.to = to
	m.text = text
	return nil
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(text string, targetLang string) (string, error) {
	return "[" + targetLang + "] " + text, nil
}

func newExecution(data map[string]any) *Execution {
	return &Execution{
		Context: &model.ExecutionContext{Id: "exec1"},
		Store:   variables.NewStore(data),
	}
}

func TestBuildRejectsUnknownType(t *testing.T) {
	_, err := Build(model.NodeDef{Id: "x", Type: "teleport"}, Dependencies{})
	var validation model.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestConditionalRoutesByExpression(t *testing.T) {
	def := model.NodeDef{Id: "check", Type: model.NODE_TYPE_CONDITIONAL, Config: map[string]any{
		"expression": `contact.score > 50`,
	}}
	n, err := Build(def, Dependencies{Evaluator: NewEvaluator()})
	require.NoError(t, err)

	handle, _, err := n.Execute(context.Background(), newExecution(map[string]any{
		"contact": map[string]any{"score": 80},
	}))
	require.NoError(t, err)
	require.Equal(t, "true", handle)

	handle, _, err = n.Execute(context.Background(), newExecution(map[string]any{
		"contact": map[string]any{"score": 10},
	}))
	require.NoError(t, err)
	require.Equal(t, "false", handle)
}

func TestConditionalRequiresBooleanResult(t *testing.T) {
	def := model.NodeDef{Id: "check", Type: model.NODE_TYPE_CONDITIONAL, Config: map[string]any{
		"expression": `contact.score + 1`,
	}}
	n, err := Build(def, Dependencies{Evaluator: NewEvaluator()})
	require.NoError(t, err)

	_, _, err = n.Execute(context.Background(), newExecution(map[string]any{
		"contact": map[string]any{"score": 1},
	}))
	require.Error(t, err)
}

func TestMessageNodeResolvesTemplates(t *testing.T) {
	messenger := &fakeMessenger{}
	def := model.NodeDef{Id: "send", Type: model.NODE_TYPE_MESSAGE_SEND, Config: map[string]any{
		"channel": "whatsapp",
		"to":      "{{contact.phone}}",
		"text":    "Hi {{contact.name}}!",
	}}
	n, err := Build(def, Dependencies{Messenger: messenger})
	require.NoError(t, err)

	execution := newExecution(map[string]any{
		"contact": map[string]any{"name": "Ada", "phone": "+550000"},
	})
	handle, output, err := n.Execute(context.Background(), execution)
	require.NoError(t, err)
	require.Equal(t, DEFAULT_HANDLE, handle)
	require.Equal(t, "+550000", messenger.to)
	require.Equal(t, "Hi Ada!", messenger.text)
	require.Equal(t, true, output["sent"])

	merged, ok := execution.Store.Get("send_output.to")
	require.True(t, ok)
	require.Equal(t, "+550000", merged)
}

func TestTranslateNodeSeparateHandle(t *testing.T) {
	def := model.NodeDef{Id: "tr", Type: model.NODE_TYPE_TRANSLATE, Config: map[string]any{
		"text":            "hello",
		"targetLang":      "pt",
		"separateMessage": true,
	}}
	n, err := Build(def, Dependencies{Translator: fakeTranslator{}})
	require.NoError(t, err)

	handle, output, err := n.Execute(context.Background(), newExecution(nil))
	require.NoError(t, err)
	require.Equal(t, HANDLE_SEPARATE, handle)
	require.Equal(t, "[pt] hello", output["translated"])

	// inline translation follows the default handle
	def.Config["separateMessage"] = false
	n, err = Build(def, Dependencies{Translator: fakeTranslator{}})
	require.NoError(t, err)
	handle, _, err = n.Execute(context.Background(), newExecution(nil))
	require.NoError(t, err)
	require.Equal(t, DEFAULT_HANDLE, handle)
}

func TestHttpNodeMergesResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer ts.Close()

	def := model.NodeDef{Id: "call", Type: model.NODE_TYPE_HTTP_CALL, Config: map[string]any{
		"url":     ts.URL,
		"headers": map[string]any{"Content-Type": "application/json"},
	}}
	n, err := Build(def, Dependencies{HttpClient: ts.Client()})
	require.NoError(t, err)

	execution := newExecution(nil)
	handle, output, err := n.Execute(context.Background(), execution)
	require.NoError(t, err)
	require.Equal(t, DEFAULT_HANDLE, handle)
	require.Equal(t, http.StatusOK, output["status"])

	parsed, ok := execution.Store.Get("call_output.json.ok")
	require.True(t, ok)
	require.Equal(t, true, parsed)
}

func TestHttpNodeNon2xxFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	def := model.NodeDef{Id: "call", Type: model.NODE_TYPE_HTTP_CALL, Config: map[string]any{"url": ts.URL}}
	n, err := Build(def, Dependencies{HttpClient: ts.Client()})
	require.NoError(t, err)

	_, _, err = n.Execute(context.Background(), newExecution(nil))
	var upstream model.UpstreamHttpError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusBadGateway, upstream.StatusCode)
}

func TestCodeNodeMergesOutputUnderNodeKey(t *testing.T) {
	def := model.NodeDef{Id: "calc", Type: model.NODE_TYPE_CODE_EXEC, Config: map[string]any{
		"code": `variables.total = 42;`,
	}}
	n, err := Build(def, Dependencies{Sandbox: sandbox.NewExecutor(nil)})
	require.NoError(t, err)

	execution := newExecution(nil)
	handle, output, err := n.Execute(context.Background(), execution)
	require.NoError(t, err)
	require.Equal(t, DEFAULT_HANDLE, handle)
	require.EqualValues(t, 42, output["total"])

	total, ok := execution.Store.Get("calc_output.total")
	require.True(t, ok)
	require.EqualValues(t, 42, total)
	flat, ok := execution.Store.Get(variables.CODE_OUTPUT_KEY + ".total")
	require.True(t, ok)
	require.EqualValues(t, 42, flat)
}

func TestCodeNodeHttpTimeoutReportsTimedOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer ts.Close()

	def := model.NodeDef{Id: "calc", Type: model.NODE_TYPE_CODE_EXEC, Config: map[string]any{
		"code":      `await httpRequest({url: "` + ts.URL + `"});`,
		"timeoutMs": 100,
	}}
	n, err := Build(def, Dependencies{Sandbox: sandbox.NewExecutor(ts.Client())})
	require.NoError(t, err)

	_, _, err = n.Execute(context.Background(), newExecution(nil))
	var timeout model.SandboxTimeoutError
	require.ErrorAs(t, err, &timeout)
}
