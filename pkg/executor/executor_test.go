package executor

import (
	"context"
	"testing"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunner is a mock implementation of CommandRunner for testing
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Execute(ctx context.Context, command string, env []string, timeout time.Duration) (Outcome, error) {
	args := m.Called(command, env, timeout)
	return args.Get(0).(Outcome), args.Error(1)
}

func newTestExecutor(runner CommandRunner) *Executor {
	return NewExecutor(runner, Options{
		Vars: map[string]string{"namespace": "real-time-agents"},
		Env:  map[string]string{"KUBECONFIG": "/tmp/kube"},
	}, logging.NewNopLogger())
}

func TestExecutor_Success(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Execute", "helm install minio minio/minio -n real-time-agents",
		[]string{"KUBECONFIG=/tmp/kube", "MODE=dev"}, domain.LongActionTimeout).
		Return(Outcome{ExitCode: 0, Stdout: "deployed"}, nil)

	result := newTestExecutor(runner).Run(context.Background(), domain.Action{
		UnitID:  "minio",
		Kind:    domain.KindPackageRelease,
		Verb:    domain.VerbInstall,
		Command: "helm install {{.UnitID}} minio/minio -n {{.namespace}}",
		Env:     map[string]string{"MODE": "dev"},
	})

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "deployed", result.Stdout)
	assert.NoError(t, result.Err)
	runner.AssertExpectations(t)
}

func TestExecutor_NonZeroExit(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(Outcome{ExitCode: 2, Stderr: "warning\nError: release exists\n"}, nil)

	result := newTestExecutor(runner).Run(context.Background(), domain.Action{
		UnitID: "langfuse", Verb: domain.VerbInstall, Command: "helm install langfuse",
	})

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 2, result.ExitCode)
	assert.True(t, errors.IsActionFailedError(result.Err))
	assert.Contains(t, result.Err.Error(), "Error: release exists")
}

func TestExecutor_Timeout(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Execute", mock.Anything, mock.Anything, 5*time.Second).
		Return(Outcome{ExitCode: -1}, errors.NewTimeoutError("command timed out", context.DeadlineExceeded))

	result := newTestExecutor(runner).Run(context.Background(), domain.Action{
		UnitID: "istio", Verb: domain.VerbApply, Command: "istioctl install -y", Timeout: 5 * time.Second,
	})

	assert.Equal(t, StatusTimedOut, result.Status)
	assert.True(t, errors.IsActionTimedOutError(result.Err))
}

func TestExecutor_StartFailure(t *testing.T) {
	runner := &MockRunner{}
	runner.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(Outcome{ExitCode: -1}, errors.NewProcessError("failed to run command", nil))

	result := newTestExecutor(runner).Run(context.Background(), domain.Action{
		UnitID: "web", Verb: domain.VerbBuild, Command: "docker build .",
	})

	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, errors.IsActionFailedError(result.Err))
}

func TestExecutor_EmptyCommandIsSkipped(t *testing.T) {
	runner := &MockRunner{}

	result := newTestExecutor(runner).Run(context.Background(), domain.Action{UnitID: "ns", Verb: domain.VerbWait})

	assert.Equal(t, StatusSkipped, result.Status)
	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecutor_TemplateError(t *testing.T) {
	runner := &MockRunner{}

	result := newTestExecutor(runner).Run(context.Background(), domain.Action{
		UnitID: "web", Verb: domain.VerbApply, Command: "kubectl apply -n {{.missing}}",
	})

	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, errors.IsActionFailedError(result.Err))
	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenderCommand_UnitVarsOverrideGlobal(t *testing.T) {
	out, err := RenderCommand(domain.Action{
		UnitID:  "agent",
		Kind:    domain.KindManifestSet,
		Verb:    domain.VerbApply,
		Command: "kubectl apply -n {{.namespace}} -f k8s/{{.UnitID}}.yaml # {{.Kind}}/{{.Verb}}",
		Vars:    map[string]string{"namespace": "override"},
	}, map[string]string{"namespace": "global"})

	require.NoError(t, err)
	assert.Equal(t, "kubectl apply -n override -f k8s/agent.yaml # manifest-set/apply", out)
}

func TestShellRunner_CapturesOutput(t *testing.T) {
	runner := NewShellRunner("", "")

	outcome, err := runner.Execute(context.Background(), "echo out; echo err >&2; echo $GREETING; exit 3",
		[]string{"GREETING=hello"}, 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Equal(t, "out\nhello\n", outcome.Stdout)
	assert.Equal(t, "err\n", outcome.Stderr)
}

func TestShellRunner_Timeout(t *testing.T) {
	runner := NewShellRunner("", "")

	start := time.Now()
	_, err := runner.Execute(context.Background(), "sleep 10", nil, 200*time.Millisecond)

	assert.True(t, errors.IsTimeoutError(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellRunner_Cancelled(t *testing.T) {
	runner := NewShellRunner("", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Execute(ctx, "sleep 10", nil, time.Minute)
	assert.True(t, errors.IsCancelledError(err))
}

func TestTailBuffer_KeepsTail(t *testing.T) {
	b := newTailBuffer(4)
	_, _ = b.Write([]byte("abcdef"))

	assert.Equal(t, "...[truncated]\ncdef", b.String())
}
