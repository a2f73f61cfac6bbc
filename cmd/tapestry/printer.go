// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"io"

	"github.com/tapestry-labs/tapestry/pkg/events"
)

// eventPrinter renders bus events as plain terminal output: streamed text on
// stdout, everything else on stderr.
type eventPrinter struct {
	out       io.Writer
	errOut    io.Writer
	streaming bool
}

func newEventPrinter(out, errOut io.Writer) *eventPrinter {
	return &eventPrinter{out: out, errOut: errOut}
}

func (p *eventPrinter) handle(ev events.Event) {
	switch ev.Type {
	case events.SubagentStreamText:
		payload := ev.Payload.(events.StreamTextPayload)
		fmt.Fprint(p.out, payload.Text)
		p.streaming = true

	case events.SubagentRoundEnd:
		if p.streaming {
			fmt.Fprintln(p.out)
			p.streaming = false
		}

	case events.SubagentToolCall:
		payload := ev.Payload.(events.ToolCallPayload)
		fmt.Fprintf(p.errOut, "[tool: %s]\n", payload.Name)

	case events.SubagentToolResult:
		payload := ev.Payload.(events.ToolResultPayload)
		if !payload.Success {
			fmt.Fprintf(p.errOut, "[tool %s failed: %s]\n", payload.Name, payload.Error)
		}

	case events.SubagentError:
		payload := ev.Payload.(events.ErrorPayload)
		fmt.Fprintf(p.errOut, "[error: %s]\n", payload.Message)

	case events.SessionStarted:
		fmt.Fprintf(p.errOut, "[session %s started]\n", ev.SessionID)

	case events.SessionSwitched:
		payload := ev.Payload.(events.SessionSwitchedPayload)
		fmt.Fprintf(p.errOut, "[active session: %s]\n", payload.To)

	case events.SessionCompleted:
		fmt.Fprintf(p.errOut, "[session %s completed]\n", ev.SessionID)

	case events.SessionAborted:
		payload := ev.Payload.(events.SessionAbortedPayload)
		fmt.Fprintf(p.errOut, "[session %s aborted: %s]\n", ev.SessionID, payload.Reason)

	case events.SubagentFinish:
		payload := ev.Payload.(events.FinishPayload)
		fmt.Fprintf(p.errOut, "[%s after %d rounds | tokens in=%d out=%d]\n",
			payload.Reason, payload.Rounds, payload.InputTokens, payload.OutputTokens)
	}
}
