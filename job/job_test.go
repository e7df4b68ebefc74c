package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTransitions(t *testing.T) {
	now := time.Now()

	t.Run("happy path", func(t *testing.T) {
		j := New("user-1", "clip", now)
		assert.Equal(t, StatusUploaded, j.Status)
		assert.NotEmpty(t, j.ID)

		require.NoError(t, j.Start(DefaultSettings(), TypeSuperResolution, now.Add(time.Second)))
		assert.Equal(t, StatusProcessing, j.Status)
		assert.Equal(t, 0, j.Progress)

		require.NoError(t, j.Advance(10, now.Add(2*time.Second)))
		require.NoError(t, j.Advance(25, now.Add(3*time.Second)))
		require.NoError(t, j.Complete("http://x/outputs/a.mp4", 150, "4k", now.Add(4*time.Second)))
		assert.Equal(t, StatusCompleted, j.Status)
		assert.Equal(t, 100, j.Progress)
		assert.Equal(t, now.Add(4*time.Second), j.UpdatedAt)
	})

	t.Run("progress never decreases", func(t *testing.T) {
		j := New("user-1", "clip", now)
		require.NoError(t, j.Start(DefaultSettings(), TypeDenoising, now))
		require.NoError(t, j.Advance(45, now))
		err := j.Advance(25, now)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, 45, j.Progress)
	})

	t.Run("advance requires processing", func(t *testing.T) {
		j := New("user-1", "clip", now)
		assert.ErrorIs(t, j.Advance(10, now), ErrInvalidTransition)
		assert.ErrorIs(t, j.Complete("u", 1, "4k", now), ErrInvalidTransition)
	})

	t.Run("no transition out of terminal states", func(t *testing.T) {
		j := New("user-1", "clip", now)
		require.NoError(t, j.Start(DefaultSettings(), TypeRestoration, now))
		require.NoError(t, j.Fail("boom", now))

		assert.ErrorIs(t, j.Advance(50, now), ErrTerminal)
		assert.ErrorIs(t, j.Complete("u", 1, "4k", now), ErrTerminal)
		assert.ErrorIs(t, j.Fail("again", now), ErrTerminal)
		assert.ErrorIs(t, j.Start(DefaultSettings(), TypeRestoration, now), ErrTerminal)
		assert.Equal(t, "boom", j.Error)
	})

	t.Run("start twice is rejected", func(t *testing.T) {
		j := New("user-1", "clip", now)
		require.NoError(t, j.Start(DefaultSettings(), TypeInterpolation, now))
		assert.ErrorIs(t, j.Start(DefaultSettings(), TypeInterpolation, now), ErrAlreadyRunning)
	})

	t.Run("failure always carries a message", func(t *testing.T) {
		j := New("user-1", "clip", now)
		require.NoError(t, j.Fail("  ", now))
		assert.Equal(t, StatusFailed, j.Status)
		assert.Equal(t, "unknown error", j.Error)
	})
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())
	assert.NoError(t, Settings{Resolution: "8K", FPS: "120"}.Validate())
	assert.Error(t, Settings{Resolution: "16k", FPS: "30"}.Validate())
	assert.Error(t, Settings{Resolution: "hd", FPS: "25"}.Validate())
}

func TestEnhancementTypeValid(t *testing.T) {
	assert.True(t, TypeSuperResolution.Valid())
	assert.True(t, EnhancementType("interpolation").Valid())
	assert.False(t, EnhancementType("colorize").Valid())
}
