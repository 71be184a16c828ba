package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/thediveo/klo"

	"livecap/internal/capture"
	"livecap/internal/models"
)

// Builtin custom-columns templates
const (
	InterfaceListTemplate     = "#:{.Index},NAME:{.Name},DESCRIPTION:{.Description}"
	InterfaceWideListTemplate = "#:{.Index},NAME:{.Name},DESCRIPTION:{.Description},ADDRESSES:{.Addresses}"
)

var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Aliases: []string{"ifaces"},
	Short:   "List capture interfaces reported by the capture tool",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lister := capture.Lister{Tool: cfg.Capture.Tool, Timeout: cfg.Capture.DiscoveryTimeout}
		return listInterfaces(cmd.Context(), cmd, lister, os.Stdout)
	},
}

func init() {
	addPrinterFlags(interfacesCmd)
}

func addPrinterFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "",
		"Output format. One of: json|yaml|wide|custom-columns=...|jsonpath=...")
	cmd.Flags().Bool("no-headers", false, "Don't print headers in the column output formats.")
}

type interfaceLister interface {
	ListInterfaces(ctx context.Context) ([]models.InterfaceInfo, error)
}

func listInterfaces(ctx context.Context, cmd *cobra.Command, lister interfaceLister, w io.Writer) error {
	prn, err := interfacePrinter(cmd)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ifaces, err := lister.ListInterfaces(ctx)
	if err != nil {
		return err
	}
	if ifaces == nil {
		ifaces = []models.InterfaceInfo{}
	}
	return prn.Fprint(w, ifaces)
}

// interfacePrinter returns a value printer for the --output flag.
func interfacePrinter(cmd *cobra.Command) (klo.ValuePrinter, error) {
	outfmt, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	prn, err := klo.PrinterFromFlag(outfmt, &klo.Specs{
		DefaultColumnSpec: InterfaceListTemplate,
		WideColumnSpec:    InterfaceWideListTemplate,
	})
	if err != nil {
		return nil, err
	}
	if ccprn, ok := prn.(*klo.CustomColumnsPrinter); ok {
		ccprn.Padding = 3
		if noheaders, err := cmd.Flags().GetBool("no-headers"); err == nil {
			ccprn.HideHeaders = noheaders
		}
	}
	return prn, nil
}
