package credential

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
	getErr error
}

func (m *memoryStore) Get(key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryStore) Set(key, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func TestResolvePasswordPrefersConfigured(t *testing.T) {
	store := &memoryStore{values: map[string]string{"u@s": "stored"}}

	password, err := ResolvePassword("configured", "u", "s", store, nil)
	require.NoError(t, err)
	assert.Equal(t, "configured", password)
}

func TestResolvePasswordFromStore(t *testing.T) {
	store := &memoryStore{values: map[string]string{Key("u", "s"): "stored"}}

	password, err := ResolvePassword("", "u", "s", store, func(string) (string, error) {
		t.Fatal("prompted although the keyring had a password")
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stored", password)
}

func TestResolvePasswordPromptsAndSaves(t *testing.T) {
	store := &memoryStore{}

	var label string
	password, err := ResolvePassword("", "u", "s", store, func(l string) (string, error) {
		label = l
		return "typed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "typed", password)
	assert.Contains(t, label, "u@s")
	assert.Equal(t, "typed", store.values["u@s"])
}

func TestResolvePasswordKeyringFailureFallsBackToPrompt(t *testing.T) {
	store := &memoryStore{getErr: errors.New("keyring locked")}

	password, err := ResolvePassword("", "u", "s", store, func(string) (string, error) { return "typed", nil })
	require.NoError(t, err)
	assert.Equal(t, "typed", password)
}

func TestResolvePasswordWithoutPrompt(t *testing.T) {
	_, err := ResolvePassword("", "u", "s", &memoryStore{}, nil)
	assert.ErrorIs(t, err, ErrNoTerminal)

	_, err = ResolvePassword("", "u", "s", &memoryStore{}, func(string) (string, error) { return "", nil })
	assert.Error(t, err)
}
