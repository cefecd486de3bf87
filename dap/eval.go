package dap

import (
	"fmt"

	"github.com/google/go-dap"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Evaluate implements the DAP Evaluate request via a small cobra-subcommand
// REPL, a clean way to support multiple evaluate sub-forms (a bare
// expression vs. an explicit command) without hand-rolling a parser. The
// "exec" subcommand goes through api.Debugger.RequestConsoleExec.
func (d *Adapter) Evaluate(c Context, req *dap.EvaluateRequest, resp *dap.EvaluateResponse) error {
	t := d.threadByFrameID(req.Arguments.FrameId)
	if t == nil {
		t = d.firstThread()
	}
	if t == nil {
		return errors.New("dap: no stopped thread to evaluate against")
	}

	switch req.Arguments.Context {
	case "repl", "":
		return d.evalREPL(c, t, req, resp)
	case "watch", "hover":
		f := t.frameByID(req.Arguments.FrameId)
		if f == nil {
			f = t.info().CurrentFrame
		}
		result, err := d.dbg.RequestEval(c, t.coreID, f, req.Arguments.Expression, false)
		if err != nil {
			return err
		}
		resp.Body.Result = result
		return nil
	default:
		return errors.Errorf("dap: unsupported evaluate context: %s", req.Arguments.Context)
	}
}

func (d *Adapter) evalREPL(c Context, t *thread, req *dap.EvaluateRequest, resp *dap.EvaluateResponse) error {
	args, err := shlex.Split(req.Arguments.Expression)
	if err != nil {
		return errors.Wrapf(err, "dap: cannot parse expression")
	}
	if len(args) == 0 {
		return nil
	}

	var retErr error
	cmd := d.replCommands(c, t, req, resp, &retErr)
	cmd.SetArgs(args)
	cmd.SetErr(d.Out())
	if err := cmd.Execute(); err != nil {
		return err
	}
	return retErr
}

func (d *Adapter) replCommands(c Context, t *thread, req *dap.EvaluateRequest, resp *dap.EvaluateResponse, retErr *error) *cobra.Command {
	root := &cobra.Command{SilenceErrors: true, SilenceUsage: true}
	root.AddCommand(d.execSubcommand(c, t, resp, retErr))
	root.AddCommand(d.completeSubcommand(c, t, resp, retErr))
	return root
}

func (d *Adapter) execSubcommand(c Context, t *thread, resp *dap.EvaluateResponse, retErr *error) *cobra.Command {
	return &cobra.Command{
		Use:                "exec",
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, args []string) {
			f := t.info().CurrentFrame
			result, err := d.dbg.RequestConsoleExec(c, t.coreID, f, joinArgs(args))
			if err != nil {
				*retErr = err
				return
			}
			resp.Body.Result = result
		},
	}
}

func (d *Adapter) completeSubcommand(c Context, t *thread, resp *dap.EvaluateResponse, retErr *error) *cobra.Command {
	return &cobra.Command{
		Use: "complete",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) == 0 {
				return
			}
			f := t.info().CurrentFrame
			matches, err := d.dbg.RequestCompletions(c, t.coreID, f, args[0])
			if err != nil {
				*retErr = err
				return
			}
			resp.Body.Result = fmt.Sprint(matches)
		},
	}
}

func (d *Adapter) firstThread() *thread {
	d.threadsMu.RLock()
	defer d.threadsMu.RUnlock()
	for _, t := range d.threads {
		return t
	}
	return nil
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
