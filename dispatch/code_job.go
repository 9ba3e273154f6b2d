package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/diaflow/diaflow/domain"
	"github.com/diaflow/diaflow/scheduler"
	"github.com/diaflow/diaflow/services"
)

// shellLanguages maps accepted code_job languages to the interpreter binary
var shellLanguages = map[string]string{
	"bash":   "bash",
	"shell":  "sh",
	"sh":     "sh",
	"python": "python3",
}

// CodeJobHandler runs inline code in a subprocess. Inputs arrive as JSON on
// stdin and as FLOW_INPUT_* environment variables; stdout is the output,
// parsed as JSON when it looks like JSON.
type CodeJobHandler struct {
	logger Logger
}

func NewCodeJobHandler(logger Logger) *CodeJobHandler {
	return &CodeJobHandler{logger: logger}
}

func (h *CodeJobHandler) Type() domain.NodeType { return domain.NodeTypeCodeJob }

func (h *CodeJobHandler) RequiredServices() []services.ServiceName { return nil }

func (h *CodeJobHandler) Validate(node *domain.Node) error {
	cfg := node.CodeJob
	if cfg == nil {
		return fmt.Errorf("code_job: config is required")
	}
	if cfg.Code == "" {
		return fmt.Errorf("code_job: code is required")
	}
	if _, ok := shellLanguages[strings.ToLower(cfg.Language)]; !ok {
		return fmt.Errorf("code_job: unsupported language %q", cfg.Language)
	}
	return nil
}

func (h *CodeJobHandler) Execute(ctx context.Context, job *scheduler.Job) (*domain.NodeOutput, error) {
	cfg := job.Node.CodeJob
	interpreter := shellLanguages[strings.ToLower(cfg.Language)]

	cmd := exec.CommandContext(ctx, interpreter, "-c", cfg.Code)
	cmd.Env = append(os.Environ(), inputEnv(job.Inputs)...)

	if raw, err := json.Marshal(job.Inputs); err == nil {
		cmd.Stdin = bytes.NewReader(raw)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewExecError(domain.ErrHandlerFailure, job.Node.ID,
			fmt.Errorf("code_job: %w: %s", err, strings.TrimSpace(stderr.String())))
	}

	out := strings.TrimRight(stdout.String(), "\n")
	return domain.NewOutput(parseMaybeJSON(out)), nil
}

// inputEnv exposes scalar inputs as FLOW_INPUT_<KEY> variables
func inputEnv(inputs map[string]interface{}) []string {
	env := make([]string, 0, len(inputs))
	for key, v := range inputs {
		name := "FLOW_INPUT_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		env = append(env, name+"="+stringifyValue(v))
	}
	return env
}

// parseMaybeJSON decodes stdout that looks like a JSON document
func parseMaybeJSON(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return s
}
