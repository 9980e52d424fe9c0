package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/semlog/semlog"
	"github.com/semlog/semlog/remote"
)

func sendCmd() *cobra.Command {
	var (
		host     string
		port     int
		mode     string
		format   string
		severity string
	)

	cmd := &cobra.Command{
		Use:   "send EVENT [field=value ...]",
		Short: "Push a single event to a remote receiver",
		Long: `Send emits one event to a semlog receiver. Field values that parse as
integers or floats are sent with their native type; everything else is a
string.

Examples:
  semlog send greeting text="Hello, World!"
  semlog send --severity e --host log.example.com alert text="Look out"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSend(host, port, mode, format, severity, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "receiver host")
	cmd.Flags().IntVar(&port, "port", remote.DefaultPort, "receiver port")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "wire mode: json, cbor, text, legacy")
	cmd.Flags().StringVar(&format, "format", "", "text template (implies text mode)")
	cmd.Flags().StringVarP(&severity, "severity", "s", "i", "severity letter code")

	return cmd
}

func runSend(host string, port int, mode, format, severity, name string, fieldArgs []string) error {
	fields, err := parseFields(fieldArgs)
	if err != nil {
		return err
	}

	wireMode, err := remote.ParseMode(mode)
	if err != nil {
		return err
	}
	// Accept everything locally: filtering is the receiver's business
	// when events are pushed by hand.
	opts := []remote.SinkOption{
		remote.WithMode(wireMode),
		remote.WithThreshold(semlog.MaxSeverity),
	}
	if format != "" {
		opts = append(opts, remote.WithTextFormat(format))
	}

	sink, err := remote.NewSink(host, port, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	subject := semlog.NewSubject()
	subject.SetSink("remote", sink)
	return subject.Event(severity, name, fields)
}

// parseFields turns key=value arguments into event fields, converting
// numeric-looking values to their native types.
func parseFields(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q is not key=value", arg)
		}
		fields[key] = parseValue(val)
	}
	return fields, nil
}

func parseValue(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
