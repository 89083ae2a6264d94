package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Success(t *testing.T) {
	r := NewExecRunner(nil, nil)
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Output))
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	r := NewExecRunner(nil, nil)
	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, string(res.Output), "boom")
}

func TestExecRunner_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	r := NewExecRunner([]string{"PATH=/usr/bin:/bin"}, nil)
	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", `printf "%s|%s" "$(pwd)" "$GREETING"`},
		Dir:  dir,
		Env:  []string{"GREETING=hi"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(res.Output), "|hi")
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(nil, nil)
	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	assert.Error(t, err)
}

func TestExecRunner_ContextCancel(t *testing.T) {
	r := NewExecRunner(nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Run(ctx, Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fixedRunner struct {
	res Result
	err error
}

func (f fixedRunner) Run(context.Context, Command) (Result, error) { return f.res, f.err }

func TestCheck(t *testing.T) {
	out, err := Check(context.Background(), fixedRunner{res: Result{Output: []byte("ok")}}, Command{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))

	_, err = Check(context.Background(), fixedRunner{res: Result{ExitCode: 2, Output: []byte("bad flag")}}, Command{Name: "terraform"})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode)
	assert.Equal(t, "terraform: exit status 2: bad flag", err.Error())
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "terraform apply -auto-approve", Command{Name: "terraform", Args: []string{"apply", "-auto-approve"}}.String())
}
