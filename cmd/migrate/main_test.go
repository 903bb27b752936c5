package main

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmigrations "github.com/wolfman30/carebook/migrations"
)

type fakeStepper struct {
	calls  []string
	err    error
	forced int
}

func (f *fakeStepper) Up() error {
	f.calls = append(f.calls, "up")
	return f.err
}

func (f *fakeStepper) Steps(n int) error {
	f.calls = append(f.calls, "steps")
	return f.err
}

func (f *fakeStepper) Force(v int) error {
	f.calls = append(f.calls, "force")
	f.forced = v
	return f.err
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args    []string
		want    command
		wantErr bool
	}{
		{nil, command{name: "up"}, false},
		{[]string{"up"}, command{name: "up"}, false},
		{[]string{"down"}, command{name: "down"}, false},
		{[]string{"force", "2"}, command{name: "force", version: 2}, false},
		{[]string{"force"}, command{}, true},
		{[]string{"force", "x"}, command{}, true},
		{[]string{"sideways"}, command{}, true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		if tt.wantErr {
			assert.Error(t, err, "%v", tt.args)
			continue
		}
		require.NoError(t, err, "%v", tt.args)
		assert.Equal(t, tt.want, got)
	}
}

func TestApplyTreatsNoChangeAsSuccess(t *testing.T) {
	m := &fakeStepper{err: migrate.ErrNoChange}
	msg, err := command{name: "up"}.apply(m)
	require.NoError(t, err)
	assert.Equal(t, "migrations complete", msg)

	_, err = command{name: "down"}.apply(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"up", "steps"}, m.calls)
}

func TestApplyForceAndFailures(t *testing.T) {
	m := &fakeStepper{}
	msg, err := command{name: "force", version: 1}.apply(m)
	require.NoError(t, err)
	assert.Equal(t, 1, m.forced)
	assert.Equal(t, "forced version to 1", msg)

	m = &fakeStepper{err: errors.New("dirty database")}
	_, err = command{name: "up"}.apply(m)
	assert.ErrorContains(t, err, "migrate up")
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(appmigrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(appmigrations.FS, "*.down.sql")
	require.NoError(t, err)
	assert.Len(t, ups, 2)
	assert.Len(t, downs, len(ups))
}
