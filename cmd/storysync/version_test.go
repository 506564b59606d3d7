package main

import "testing"

func TestFullVersionString(t *testing.T) {
	if got, want := fullVersionString(""), Version+" (dev)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := fullVersionString("280fbcf9a2531234abcd"), Version+" (dev: 280fbcf9a253)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"audit", "daemon", "init", "preflight", "pull", "push", "rollup", "status", "sync", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (got %v, %v)", name, cmd, err)
		}
	}
}
