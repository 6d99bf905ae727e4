package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/jobhelper/internal/command"
)

func newDecodeConfigCmd(c *cli) *cobra.Command {
	var noSubstitute bool
	cmd := &cobra.Command{
		Use:   "decode-config [ENCODED]",
		Short: "Decode a --config argument back to JSON",
		Long: `Decode the base64 zlib JSON that jh passes to entry-point commands as
--config. Environment references such as $HOME or ${SCRATCH} are expanded
when the variable is set; $$ yields a literal $. Reads stdin without an
argument.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var encoded string
			if len(args) == 1 {
				encoded = args[0]
			} else {
				data, err := io.ReadAll(c.stdin)
				if err != nil {
					return err
				}
				encoded = string(data)
			}
			raw, err := command.DecodeConfig(strings.TrimSpace(encoded), !noSubstitute)
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, raw, "", "  "); err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, pretty.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&noSubstitute, "no-substitute", false, "keep environment references verbatim")
	return cmd
}
