package blueberry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type argsContext map[string]any

func (a argsContext) Arguments() map[string]any { return a }
func (argsContext) ApplicationRunning()         {}
func (argsContext) Branding() Branding          { return nil }
func (argsContext) SetResult(any, error) error  { return nil }

func TestErrorApplication(t *testing.T) {
	_, err := ErrorApplication{}.Start(context.Background(), argsContext{ArgErrorException: "nothing to run"})
	require.ErrorIs(t, err, ErrRuntime)
	assert.Contains(t, err.Error(), "nothing to run")

	_, err = ErrorApplication{}.Start(context.Background(), argsContext{})
	assert.ErrorIs(t, err, ErrIllegalState)

	r := newTestEnv(t).extensions
	require.NoError(t, RegisterErrorApplication(r), "registering twice is harmless")
	assert.Len(t, r.Extensions(PointApplications), 1)
}
