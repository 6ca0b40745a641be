package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/marchworks/dealflow/logger"
	"github.com/marchworks/dealflow/model"
	"go.uber.org/zap"
)

const MIN_TIMEOUT_MS = 100
const MAX_TIMEOUT_MS = 30000

// maxResponseBytes caps what a script can pull in through httpRequest.
const maxResponseBytes = 10 << 20

type Result struct {
	Success   bool
	Value     any
	Variables map[string]any
	Error     string
}

// Executor runs untrusted scripts on a fresh goja runtime per invocation.
// Exactly two capabilities are installed: the mutable `variables` object
// and the outbound `httpRequest` function. Everything else is denied by
// construction since a bare goja runtime has no IO.
type Executor struct {
	httpClient *http.Client
}

func NewExecutor(httpClient *http.Client) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Executor{httpClient: httpClient}
}

func ClampTimeout(timeoutMs int) int {
	if timeoutMs < MIN_TIMEOUT_MS {
		return MIN_TIMEOUT_MS
	}
	if timeoutMs > MAX_TIMEOUT_MS {
		return MAX_TIMEOUT_MS
	}
	return timeoutMs
}

// Execute runs the script against a snapshot of variables. The wall clock
// timeout spans invocation to final settlement, including any awaited
// httpRequest calls. Variable writes commit atomically: any failure
// returns zero writes.
func (e *Executor) Execute(ctx context.Context, script string, vars map[string]any, timeoutMs int) Result {
	timeout := time.Duration(ClampTimeout(timeoutMs)) * time.Millisecond
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	seeded := deepCopy(vars)
	if err := vm.Set("variables", seeded); err != nil {
		return failure(fmt.Sprintf("error seeding variables: %v", err))
	}
	if err := vm.Set("httpRequest", e.httpRequestFunc(execCtx, vm)); err != nil {
		return failure(fmt.Sprintf("error installing httpRequest: %v", err))
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("timeout")
	})
	defer timer.Stop()

	// A deadline that lands mid httpRequest surfaces as a thrown GoError
	// from the cancelled request, not as an interrupt. The clock decides
	// what the failure is, not the shape of the error.
	timedOut := func() bool { return execCtx.Err() == context.DeadlineExceeded }

	wrapped := fmt.Sprintf("(async () => {\n%s\n})()", script)
	value, err := vm.RunString(wrapped)
	if err != nil {
		if timedOut() {
			return failure(model.SandboxTimeoutError{TimeoutMs: timeoutMs}.Error())
		}
		return resultFromError(err)
	}

	var scriptValue any
	if promise, ok := value.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateRejected:
			if timedOut() {
				return failure(model.SandboxTimeoutError{TimeoutMs: timeoutMs}.Error())
			}
			return failure(rejectionMessage(promise.Result()))
		case goja.PromiseStateFulfilled:
			scriptValue = promise.Result().Export()
		default:
			// The script awaits something no capability can ever resolve.
			// Hold until the deadline, then report it the same way as a
			// busy loop.
			<-execCtx.Done()
			return Result{Success: false, Error: model.SandboxTimeoutError{TimeoutMs: timeoutMs}.Error()}
		}
	} else {
		scriptValue = value.Export()
	}

	written, err := exportVariables(vm)
	if err != nil {
		return failure(err.Error())
	}
	return Result{Success: true, Value: scriptValue, Variables: written}
}

func (e *Executor) httpRequestFunc(ctx context.Context, vm *goja.Runtime) func(opts map[string]any) (map[string]any, error) {
	return func(opts map[string]any) (map[string]any, error) {
		url, _ := opts["url"].(string)
		if len(url) == 0 {
			return nil, fmt.Errorf("httpRequest requires a url")
		}
		method, _ := opts["method"].(string)
		if len(method) == 0 {
			method = http.MethodGet
		}
		var body io.Reader
		if rawBody, ok := opts["body"]; ok && rawBody != nil {
			switch b := rawBody.(type) {
			case string:
				body = strings.NewReader(b)
			default:
				encoded, err := json.Marshal(b)
				if err != nil {
					return nil, fmt.Errorf("httpRequest body not serializable: %w", err)
				}
				body = strings.NewReader(string(encoded))
			}
		}
		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, body)
		if err != nil {
			return nil, err
		}
		if headers, ok := opts["headers"].(map[string]any); ok {
			for k, v := range headers {
				req.Header.Set(k, fmt.Sprintf("%v", v))
			}
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		result := map[string]any{
			"status": resp.StatusCode,
			"body":   string(raw),
		}
		respHeaders := make(map[string]any, len(resp.Header))
		for k := range resp.Header {
			respHeaders[k] = resp.Header.Get(k)
		}
		result["headers"] = respHeaders
		var parsed any
		if json.Unmarshal(raw, &parsed) == nil {
			result["json"] = parsed
		}
		return result, nil
	}
}

func exportVariables(vm *goja.Runtime) (map[string]any, error) {
	value := vm.Get("variables")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(value.Export())
	if err != nil {
		return nil, fmt.Errorf("script variables not serializable: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("script replaced variables with a non-object value")
	}
	return out, nil
}

func resultFromError(err error) Result {
	if _, ok := err.(*goja.InterruptedError); ok {
		return Result{Success: false, Error: model.SandboxTimeoutError{}.Error()}
	}
	if ex, ok := err.(*goja.Exception); ok {
		return failure(exceptionMessage(ex))
	}
	return failure(err.Error())
}

func exceptionMessage(ex *goja.Exception) string {
	value := ex.Value()
	if value == nil {
		return ex.Error()
	}
	if obj, ok := value.Export().(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
	}
	return value.String()
}

func rejectionMessage(value goja.Value) string {
	if value == nil {
		return "script rejected"
	}
	if obj, ok := value.Export().(map[string]any); ok {
		if msg, ok := obj["message"].(string); ok {
			return msg
		}
	}
	return value.String()
}

func deepCopy(vars map[string]any) map[string]any {
	if vars == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		logger.Error("variables snapshot not serializable", zap.Error(err))
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func failure(message string) Result {
	return Result{Success: false, Error: message}
}
