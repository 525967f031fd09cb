// compass_inspect loads a serialized AIPU compass runtime module and reports
// its identity and parameter descriptors. It can also benchmark the module
// against the simulator driver and emit the bare-metal fallback C stub.
//
// Usage:
//
//	compass_inspect [flags] <module_file>
//
// The module file is the record written by compass.Module.Save.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/xi-guo-0/Compass-Apache-TVM/runtime/compass"
	"github.com/xi-guo-0/Compass-Apache-TVM/types/tensors"

	// Default driver, selectable with COMPASS_DRIVER=sim.
	_ "github.com/xi-guo-0/Compass-Apache-TVM/driver/simulator"
)

var (
	flagBench = flag.Int("bench", 0, "Run the module this many times on zero-filled inputs "+
		"and report progress. Requires a usable driver (the simulator by default).")
	flagFallback = flag.String("fallback", "", "Write the bare-metal fallback C stub to this "+
		"path (must end in .c). X2 targets also get an aipu.bin next to it.")
	flagLazy = flag.Bool("lazy", false, "Don't initialize a driver session; only the "+
		"serialized identity is reported, not the parameter descriptors.")
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one module file to inspect. See 'compass_inspect -help'.")
		os.Exit(1)
	}

	var opts []compass.Option
	if *flagLazy {
		opts = append(opts, compass.WithLazyInit())
	}
	m := must.M1(compass.Load(args[0], opts...))
	defer m.Finalize()

	reportIdentity(m, args[0])
	if !*flagLazy {
		reportParams(m)
	}
	if *flagFallback != "" {
		must.M(m.SaveFallbackToFile(*flagFallback))
		fmt.Printf("Wrote fallback stub to %s\n", *flagFallback)
	}
	if *flagBench > 0 {
		bench(m, *flagBench)
	}
}

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func reportIdentity(m *compass.Module, path string) {
	fmt.Println(titleStyle.Render("Module"))
	table := newPlainTable(false)
	table.Row("file", path)
	table.Row("type_key", compass.TypeKey)
	table.Row("function", m.FuncName())
	table.Row("target", m.Target())
	dtcm := m.UmdDtcmSize()
	if dtcm == "" {
		dtcm = "(default)"
	}
	table.Row("umd_dtcm_size", dtcm)
	table.Row("binary", humanize.Bytes(uint64(m.BinarySize())))
	fmt.Println(table.Render())
}

func reportParams(m *compass.Module) {
	fmt.Println(titleStyle.Render("Parameters"))
	table := newPlainTable(true)
	table.Row("Slot", "Kind", "DType", "Size")
	for _, isInput := range []bool{true, false} {
		kind := "output"
		count := must.M1(m.NumOutputs())
		if isInput {
			kind = "input"
			count = must.M1(m.NumInputs())
		}
		for i := 0; i < count; i++ {
			info := must.M1(m.GetParamInfo(i, isInput))
			table.Row(fmt.Sprintf("#%d", i), kind, info.DType.String(),
				humanize.Bytes(uint64(info.Size)))
		}
	}
	fmt.Println(table.Render())
}

// bench runs numRuns full inference passes with zero-filled 1-D tensors
// shaped from the parameter descriptors.
func bench(m *compass.Module, numRuns int) {
	args := append(
		tensorsFromParams(m, true),
		tensorsFromParams(m, false)...)

	bar := progressbar.NewOptions(numRuns,
		progressbar.OptionSetDescription(m.FuncName()),
		progressbar.OptionSetTheme(progressbar.ThemeASCII))
	for i := 0; i < numRuns; i++ {
		must.M(m.Run(args...))
		must.M(bar.Add(1))
	}
	must.M(bar.Finish())
	fmt.Println()
}

func tensorsFromParams(m *compass.Module, isInput bool) []*tensors.Tensor {
	count := must.M1(m.NumOutputs())
	if isInput {
		count = must.M1(m.NumInputs())
	}
	ts := make([]*tensors.Tensor, count)
	for i := range ts {
		info := must.M1(m.GetParamInfo(i, isInput))
		ts[i] = tensors.FromShape(info.DType, info.Size/info.DType.Size())
	}
	return ts
}
