package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCustomizer struct {
	added    []any
	modified []any
	removed  []any
	reject   any
}

func (c *recordingCustomizer) AddingService(ref *ServiceReference) any {
	svc := ref.registry.GetService(ref)
	if svc == c.reject {
		return nil
	}
	c.added = append(c.added, svc)
	return svc
}

func (c *recordingCustomizer) ModifiedService(_ *ServiceReference, service any) {
	c.modified = append(c.modified, service)
}

func (c *recordingCustomizer) RemovedService(_ *ServiceReference, service any) {
	c.removed = append(c.removed, service)
}

func TestTracker_FollowsServices(t *testing.T) {
	r := NewRegistry()
	existing, err := r.Register([]string{"launcher"}, "existing", nil)
	require.NoError(t, err)

	c := &recordingCustomizer{reject: "rejected"}
	tr := NewTracker(r, "launcher", c)
	require.NoError(t, tr.Open())
	require.NoError(t, tr.Open(), "open is idempotent")
	assert.Equal(t, []any{"existing"}, c.added)

	_, err = r.Register([]string{"launcher"}, "rejected", nil)
	require.NoError(t, err)
	preferred, err := r.Register([]string{"launcher"}, "preferred", Properties{PropServiceRanking: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Size())
	assert.Equal(t, "preferred", tr.Service())

	require.NoError(t, preferred.Update(Properties{PropServiceRanking: 10, "x": 1}))
	assert.Equal(t, []any{"preferred"}, c.modified)

	require.NoError(t, preferred.Unregister())
	assert.Equal(t, []any{"preferred"}, c.removed)
	assert.Equal(t, "existing", tr.Service())

	tr.Close()
	tr.Close()
	assert.Equal(t, []any{"preferred", "existing"}, c.removed)
	assert.Equal(t, 0, tr.Size())
	assert.Nil(t, tr.Service())

	require.NoError(t, existing.Unregister())
	assert.Len(t, c.removed, 2, "a closed tracker ignores changes")
}

func TestTracker_WithoutCustomizer(t *testing.T) {
	r := NewRegistry()
	tr := NewTracker(r, "svc", nil)
	require.NoError(t, tr.Open())
	_, err := r.Register([]string{"svc"}, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, tr.Service())
}
