package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acproxycam/acproxycam/internal/config"
	"github.com/acproxycam/acproxycam/internal/ipc"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "acproxycamctl",
	Short: "Manage a running acproxycamd instance",
}

func client() *ipc.Client {
	return ipc.NewClient(socketPath, 0)
}

// printResponse renders a Response's Data as indented JSON, or reports the
// server-side error and exits non-zero.
func printResponse(resp *ipc.Response, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintln(os.Stderr, "error:", resp.Error)
		os.Exit(1)
	}
	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return
	}
	var pretty map[string]any
	if json.Unmarshal(resp.Data, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}
	var prettyList []json.RawMessage
	if json.Unmarshal(resp.Data, &prettyList) == nil {
		out, _ := json.MarshalIndent(prettyList, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println(string(resp.Data))
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon-wide health and printer count",
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdGetStatus, nil))
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured printers and their Supervisor state",
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdListPrinters, nil))
	},
}

var detailsCmd = &cobra.Command{
	Use:   "details <printer>",
	Short: "Show a printer's full observable status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdGetPrinterDetails, &ipc.PrinterNameRequest{Name: args[0]}))
	},
}

var configCmd = &cobra.Command{
	Use:   "config <printer>",
	Short: "Show a printer's persisted configuration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdGetPrinterConfig, &ipc.PrinterNameRequest{Name: args[0]}))
	},
}

var (
	addHost       string
	addSSHUser    string
	addSSHPass    string
	addListenPort int
)

var addCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a printer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p := &config.PrinterConfig{
			Name:       args[0],
			Host:       addHost,
			ListenPort: addListenPort,
			SSHUser:    addSSHUser,
		}
		p.ApplyDefaults()
		wire, err := json.Marshal(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		var raw map[string]any
		json.Unmarshal(wire, &raw)
		if addSSHPass != "" {
			raw["sshPassword"] = addSSHPass
		}
		payload, _ := json.Marshal(raw)
		resp, err := client().Call(ipc.CmdAddPrinter, json.RawMessage(payload))
		printResponse(resp, err)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a printer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdDeletePrinter, &ipc.PrinterNameRequest{Name: args[0]}))
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <name>",
	Short: "Pause a printer's Supervisor",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdPausePrinter, &ipc.PrinterNameRequest{Name: args[0]}))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Resume a paused or failed printer's Supervisor",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdResumePrinter, &ipc.PrinterNameRequest{Name: args[0]}))
	},
}

var ledCmd = &cobra.Command{
	Use:   "led <name> <on|off>",
	Short: "Turn a printer's status LED on or off",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		on := args[1] == "on"
		if !on && args[1] != "off" {
			fmt.Fprintln(os.Stderr, "state must be 'on' or 'off'")
			os.Exit(1)
		}
		printResponse(client().Call(ipc.CmdSetLED, &ipc.SetLEDRequest{Name: args[0], On: on}))
	},
}

var interfacesCmd = &cobra.Command{
	Use:   "set-interfaces <addr...>",
	Short: "Set the daemon's front-end listen interfaces",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdChangeInterfaces, &ipc.ChangeInterfacesRequest{ListenInterfaces: args}))
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Start Supervisors for any printer present in the config but not yet running",
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdReloadConfig, nil))
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Request a graceful daemon shutdown",
	Run: func(cmd *cobra.Command, args []string) {
		printResponse(client().Call(ipc.CmdStopService, nil))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.Default().IPCSocketPath, "daemon IPC socket path")

	addCmd.Flags().StringVar(&addHost, "host", "", "printer LAN host or IP (required)")
	addCmd.Flags().IntVar(&addListenPort, "listen-port", 0, "local front-end listen port (required)")
	addCmd.Flags().StringVar(&addSSHUser, "ssh-user", "root", "printer SSH username")
	addCmd.Flags().StringVar(&addSSHPass, "ssh-password", "", "printer SSH password")
	addCmd.MarkFlagRequired("host")
	addCmd.MarkFlagRequired("listen-port")

	rootCmd.AddCommand(statusCmd, listCmd, detailsCmd, configCmd, addCmd, deleteCmd,
		pauseCmd, resumeCmd, ledCmd, interfacesCmd, reloadCmd, stopCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
