// Command mcpctl is the short-lived CLI surface over one bridge. Each
// invocation opens at most one IPC connection (via the IPC Request
// Client), or drives the Bridge Manager's spawn/stop lifecycle, and exits;
// nothing here stays resident between commands. It exercises the core
// end to end (connect, tools-list, tools-call, close, restart, clean)
// without attempting the fuller dynamic argument grammar a real CLI would
// grow — that grammar, and nice output formatting, are out of scope here.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/mcpbridge/mcpbridge/bridgemgr"
	"github.com/mcpbridge/mcpbridge/clierr"
	"github.com/mcpbridge/mcpbridge/config"
	"github.com/mcpbridge/mcpbridge/internal/mcpschema"
	"github.com/mcpbridge/mcpbridge/ipc"
	"github.com/mcpbridge/mcpbridge/secretstore"
)

var rootOpts struct {
	Home string `long:"home" description:"bridge home directory" default:""`
}

func paths() config.Paths {
	home := rootOpts.Home
	if home == "" {
		home = defaultHome()
	}
	return config.Paths{Home: home}
}

func defaultHome() string {
	if h := os.Getenv("MCPBRIDGE_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/.mcpbridge/bridges"
}

func bridgedBin() string {
	if b := os.Getenv("MCPBRIDGE_BRIDGED_BIN"); b != "" {
		return b
	}
	return "mcpbridged"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type connectCmd struct {
	Session     string            `long:"session" required:"true" description:"session name"`
	Transport   string            `long:"transport" choice:"http" choice:"stdio" required:"true" description:"transport kind"`
	URL         string            `long:"url" description:"MCP server URL (http transport)"`
	Header      map[string]string `long:"header" description:"static HTTP header as key:value (repeatable, stored in the secret store only)"`
	Command     string            `long:"command" description:"child command to spawn (stdio transport)"`
	Arg         []string          `long:"arg" description:"argument for the child command (repeatable)"`
	Env         []string          `long:"env" description:"KEY=VALUE environment entry for the child (repeatable)"`
	Profile     string            `long:"profile" description:"OAuth profile name to authenticate with"`
	ProxyPort   int               `long:"proxy" description:"bind a local proxy server on this port"`
	ProxyHost   string            `long:"proxy-host" default:"127.0.0.1" description:"proxy bind host"`
	ProxyBearer string            `long:"proxy-bearer" description:"bearer token the proxy requires"`
}

func (c *connectCmd) Execute(_ []string) error {
	p := paths()
	sess := &config.Session{
		Name:        c.Session,
		ProfileName: c.Profile,
		Transport: config.Transport{
			Type:    c.Transport,
			URL:     c.URL,
			Command: c.Command,
			Args:    c.Arg,
			Env:     c.Env,
		},
	}
	if c.ProxyPort != 0 {
		sess.Proxy = &config.Proxy{Host: c.ProxyHost, Port: c.ProxyPort}
	}

	secrets := secretstore.New()
	if len(c.Header) > 0 {
		if err := secrets.SetHeaders(c.Session, c.Header); err != nil {
			return err
		}
	}
	if c.ProxyBearer != "" {
		if err := secrets.SetProxyBearer(c.Session, c.ProxyBearer); err != nil {
			return err
		}
	}

	if err := config.SaveSessionDescriptor(p, sess); err != nil {
		return err
	}

	mgr := bridgemgr.New(p, bridgedBin())
	rec, err := mgr.SpawnSession(context.Background(), c.Session)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

type sessionArgCmd struct {
	Session string `long:"session" required:"true" description:"session name"`
}

func (c *sessionArgCmd) callIPC(method string, params, out any) error {
	p := paths()
	mgr := bridgemgr.New(p, bridgedBin())
	ctx := context.Background()
	rec, err := mgr.EnsureBridgeHealthy(ctx, c.Session)
	if err != nil {
		return err
	}
	return ipc.New(rec.SocketPath, 0).Call(ctx, method, params, out)
}

type toolsListCmd struct {
	sessionArgCmd
}

func (c *toolsListCmd) Execute(_ []string) error {
	var out mcpschema.ListToolsResult
	if err := c.callIPC("listTools", nil, &out); err != nil {
		return err
	}
	return printJSON(out)
}

type toolsCallCmd struct {
	sessionArgCmd
	Tool      string `long:"tool" required:"true" description:"tool name"`
	Arguments string `long:"arguments" description:"JSON object of tool arguments"`
}

func (c *toolsCallCmd) Execute(_ []string) error {
	params := mcpschema.CallToolRequestParams{Name: c.Tool}
	if c.Arguments != "" {
		if err := json.Unmarshal([]byte(c.Arguments), &params.Arguments); err != nil {
			return fmt.Errorf("decode --arguments: %w", err)
		}
	}
	var out mcpschema.CallToolResult
	if err := c.callIPC("callTool", params, &out); err != nil {
		return err
	}
	return printJSON(out)
}

type restartCmd struct {
	sessionArgCmd
}

func (c *restartCmd) Execute(_ []string) error {
	p := paths()
	mgr := bridgemgr.New(p, bridgedBin())
	ctx := context.Background()
	if err := mgr.StopBridge(ctx, c.Session); err != nil {
		return err
	}
	if _, err := config.LoadSessionDescriptor(p, c.Session); err != nil {
		return fmt.Errorf("no descriptor for session %q, run connect again: %w", c.Session, err)
	}
	rec, err := mgr.SpawnSession(ctx, c.Session)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

type closeCmd struct {
	sessionArgCmd
}

func (c *closeCmd) Execute(_ []string) error {
	p := paths()
	mgr := bridgemgr.New(p, bridgedBin())
	if err := mgr.StopBridge(context.Background(), c.Session); err != nil {
		return err
	}
	if err := secretstore.New().DeleteSession(c.Session); err != nil {
		return err
	}
	_ = os.Remove(p.DescriptorPath(c.Session))
	return nil
}

type cleanCmd struct {
	Expired bool `long:"expired" description:"also remove expired sessions and their stored secrets"`
}

func (c *cleanCmd) Execute(_ []string) error {
	mgr := bridgemgr.New(paths(), bridgedBin())
	secrets := secretstore.New()
	crashed, expired, err := mgr.Consolidate(c.Expired, secrets.DeleteSession)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"crashed": crashed, "expiredRemoved": expired})
}

func main() {
	parser := flags.NewParser(&rootOpts, flags.Default)
	parser.SubcommandsOptional = false

	must := func(name, short string, cmd flags.Commander) {
		if _, err := parser.AddCommand(name, short, short, cmd); err != nil {
			fmt.Fprintln(os.Stderr, "mcpctl:", err)
			os.Exit(1)
		}
	}
	must("connect", "open or resume a session", &connectCmd{})
	must("tools-list", "list tools on a session", &toolsListCmd{})
	must("tools-call", "call a tool on a session", &toolsCallCmd{})
	must("restart", "stop and respawn a session's bridge", &restartCmd{})
	must("close", "stop a session's bridge and forget its secrets", &closeCmd{})
	must("clean", "sweep crashed sessions, optionally expired ones too", &cleanCmd{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "mcpctl:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var ce *clierr.Error
	if errors.As(err, &ce) {
		return ce.Kind.ExitCode()
	}
	return 1
}
