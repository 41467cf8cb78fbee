package program

import (
	"fmt"
	"strings"
)

// Dialect holds the command templates sent to the execution host. The
// engine never interprets them; they only need to make sense to the host.
type Dialect struct {
	// RunFile formats a file run: quoted path, then arguments.
	RunFile string `mapstructure:"run_file"`
	// Attach formats an attach-by-process-id command.
	Attach string `mapstructure:"attach"`
	// EnterDebug is issued after Attach to break into the attached runspace.
	EnterDebug string `mapstructure:"enter_debug"`
	// SetVariable is the command a nested pipeline invokes with Name and Value.
	SetVariable string `mapstructure:"set_variable"`
	// RegisterOpenFile defines the remote editor-open command.
	RegisterOpenFile string `mapstructure:"register_open_file"`
	// UnregisterOpenFile removes it again.
	UnregisterOpenFile string `mapstructure:"unregister_open_file"`
	// OpenFileEvent is the session event source the editor-open command raises.
	OpenFileEvent string `mapstructure:"open_file_event"`
	// Sigil prefixes variable names in the script language.
	Sigil string `mapstructure:"sigil"`
}

// DefaultDialect targets a PowerShell execution host.
func DefaultDialect() Dialect {
	return Dialect{
		RunFile:     ". '%s' %s",
		Attach:      "Enter-PSHostProcess -Id %d",
		EnterDebug:  "Debug-Runspace -Id 1",
		SetVariable: "Set-Variable",
		RegisterOpenFile: `function psedit {
    param([Parameter(Mandatory=$true)][string[]]$FileNames)
    foreach ($f in $FileNames) {
        $p = Resolve-Path $f
        $null = New-Event -SourceIdentifier ScriptDebugger.OpenFile -MessageData @{ Path = $p.Path; Content = (Get-Content -Raw -LiteralPath $p) }
    }
}`,
		UnregisterOpenFile: "Remove-Item -Path function:psedit -ErrorAction SilentlyContinue",
		OpenFileEvent:      "ScriptDebugger.OpenFile",
		Sigil:              "$",
	}
}

// CommandLines derives the host command lines that execute n, in order.
func (d Dialect) CommandLines(n Node) ([]string, error) {
	switch n.Kind {
	case Attached:
		if n.ProcessID <= 0 {
			return nil, fmt.Errorf("invalid process id %d", n.ProcessID)
		}
		return []string{fmt.Sprintf(d.Attach, n.ProcessID), d.EnterDebug}, nil
	case File:
		if n.Path == "" {
			return nil, fmt.Errorf("file node has no path")
		}
		line := fmt.Sprintf(d.RunFile, quote(n.Path), n.Args)
		return []string{strings.TrimSpace(line)}, nil
	case Inline:
		return []string{n.Content}, nil
	}
	return nil, fmt.Errorf("unsupported program node kind %s", n.Kind)
}

// TrimSigil strips one leading sigil from a variable name.
func (d Dialect) TrimSigil(name string) string {
	if d.Sigil == "" {
		return name
	}
	return strings.TrimPrefix(name, d.Sigil)
}

// single quotes are escaped by doubling them
func quote(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
