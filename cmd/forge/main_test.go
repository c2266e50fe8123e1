package main

import "testing"

func TestBuildRootCmdRegistersCLISurfaceFlags(t *testing.T) {
	cmd := buildRootCmd()

	for _, name := range []string{"web", "terminal", "port", "config"} {
		if cmd.Flags().Lookup(name) == nil && cmd.PersistentFlags().Lookup(name) == nil {
			t.Fatalf("expected flag %q to be registered", name)
		}
	}

	portFlag := cmd.Flags().Lookup("port")
	if portFlag == nil || portFlag.DefValue != "5173" {
		t.Fatalf("expected --port to default to 5173, got %+v", portFlag)
	}
}

func TestRunRootRejectsOutOfRangePort(t *testing.T) {
	err := runRoot(t.Context(), &cliFlags{web: true, port: 80})
	if err == nil {
		t.Fatalf("expected an error for a port below 1024")
	}
}
