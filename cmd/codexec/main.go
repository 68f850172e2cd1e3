// Command codexec runs agent-written code against a tool catalog from
// the command line.
//
// Usage:
//
//	codexec run --code agent.js                 # execute a code file
//	codexec run --registry tools.yaml           # with a tool catalog
//	codexec stubs --registry tools.yaml         # print the stub tree
//	codexec version                             # show version information
package main

import (
	"fmt"
	"os"

	"github.com/BaSui01/codexec/config"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runExecute(os.Args[2:])
	case "stubs":
		runStubs(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func printVersion() {
	fmt.Printf("codexec %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`codexec - sandboxed code execution for agent tool calling

Usage:
  codexec <command> [options]

Commands:
  run       Execute a code file in the sandbox
  stubs     Print the generated tool stub tree
  version   Show version information
  help      Show this help message

Options for 'run':
  --code <path>       Code file to execute (default: read stdin)
  --config <path>     Path to configuration file (YAML)
  --registry <path>   Tool catalog file (YAML) with canned responses
  --language <lang>   Guest language (default: javascript)

Options for 'stubs':
  --registry <path>   Tool catalog file (YAML)

Examples:
  codexec run --code agent.js --registry tools.yaml
  echo 'callTool("docs","getDocument",{id:"1"}).text' | codexec run --registry tools.yaml
  codexec stubs --registry tools.yaml
  codexec version`)
}
