package flow

import (
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/MeditationVisual/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(models.DefaultCatalog(), &fakeGenerator{})

	a := r.Create()
	b := r.Create()
	assert.True(t, strings.HasPrefix(a.ID(), "s_"))
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, got.SelectEmotion("Anxious"))
	other, _ := r.Get(b.ID())
	assert.Equal(t, StepEmotion, other.Snapshot().Step, "sessions must be isolated")

	require.NoError(t, r.Delete(a.ID()))
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, r.Delete(a.ID()), ErrSessionNotFound)
	assert.ErrorIs(t, a.SelectEmotion("Anxious"), ErrSessionClosed)
}

func TestRegistryDeleteCancelsGeneration(t *testing.T) {
	rec := newMemRecorder()
	gen := &fakeGenerator{gate: make(chan struct{})}
	r := NewRegistry(models.DefaultCatalog(), gen, WithRegistryRecorder(rec))

	c := r.Create()
	require.NoError(t, c.SelectEmotion("Restless"))
	require.NoError(t, c.SelectTheme("Swaying Grass"))
	require.NoError(t, r.Delete(c.ID()))

	select {
	case receipt := <-rec.added:
		assert.Equal(t, models.ReceiptStatusDiscarded, receipt.Status)
		assert.Equal(t, c.ID(), receipt.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("deleted session kept generating")
	}
}

func TestRegistryExpiry(t *testing.T) {
	r := NewRegistry(models.DefaultCatalog(), &fakeGenerator{}, WithSessionTTL(20*time.Millisecond))
	c := r.Create()

	require.Eventually(t, func() bool {
		_, err := r.Get(c.ID())
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(models.DefaultCatalog(), &fakeGenerator{})
	c := r.Create()
	r.Close()
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, c.SelectEmotion("Anxious"), ErrSessionClosed)
}
