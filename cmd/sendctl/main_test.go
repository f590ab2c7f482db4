package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"payconfirm/core/submission"
	"payconfirm/services/sendd"
)

type fakeAPI struct {
	view      sendd.View
	frames    []sendd.StreamFrame
	responses []sendd.SubmitResponse
	submits   int
	abandoned int
}

func (f *fakeAPI) Begin(context.Context, string) (sendd.View, error) { return f.view, nil }

func (f *fakeAPI) Submit(context.Context) (sendd.SubmitResponse, error) {
	resp := f.responses[f.submits]
	f.submits++
	return resp, nil
}

func (f *fakeAPI) Abandon(context.Context) error {
	f.abandoned++
	return nil
}

func (f *fakeAPI) Stream(_ context.Context, fn func(sendd.StreamFrame) bool) error {
	for _, frame := range f.frames {
		if !fn(frame) {
			return nil
		}
	}
	return nil
}

type scriptedPrompt struct {
	answers   []bool
	questions []string
}

func (p *scriptedPrompt) Confirm(question string) (bool, error) {
	p.questions = append(p.questions, question)
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

func readyView() sendd.View {
	return sendd.View{Title: "Confirm pay invoice", Ready: true, Items: []sendd.FormItem{{Key: "INVOICE", Title: "Invoice", Value: "lnbc1..."}}}
}

func TestRunPayCompletes(t *testing.T) {
	api := &fakeAPI{
		view:      readyView(),
		responses: []sendd.SubmitResponse{{Outcome: submission.OutcomeCompleted, Receipt: &sendd.PaymentReceipt{PaymentHash: "abcd"}}},
	}
	prompt := &scriptedPrompt{answers: []bool{true}}
	var out bytes.Buffer

	require.NoError(t, runPay(context.Background(), api, prompt, "lnbc1", time.Second, &out))
	require.Equal(t, 1, api.submits)
	require.Zero(t, api.abandoned)
	require.Contains(t, out.String(), "Payment sent.")
	require.Contains(t, out.String(), "Payment hash: abcd")
}

func TestRunPayDeclineAbandons(t *testing.T) {
	api := &fakeAPI{view: readyView()}
	prompt := &scriptedPrompt{answers: []bool{false}}
	var out bytes.Buffer

	require.NoError(t, runPay(context.Background(), api, prompt, "lnbc1", time.Second, &out))
	require.Zero(t, api.submits)
	require.Equal(t, 1, api.abandoned)
}

func TestRunPayRetriesAfterFailure(t *testing.T) {
	api := &fakeAPI{
		view: readyView(),
		responses: []sendd.SubmitResponse{
			{Outcome: submission.OutcomeFailed, Message: "no route"},
			{Outcome: submission.OutcomeCompleted},
		},
	}
	prompt := &scriptedPrompt{answers: []bool{true, true}}
	var out bytes.Buffer

	require.NoError(t, runPay(context.Background(), api, prompt, "lnbc1", time.Second, &out))
	require.Equal(t, []string{"Pay?", "Retry?"}, prompt.questions)
	require.Contains(t, out.String(), "Error: no route")
}

func TestRunPayWaitsForReadiness(t *testing.T) {
	notReady := readyView()
	notReady.Ready = false
	notReady.Waiting = []string{"chain"}
	ready := readyView()
	api := &fakeAPI{
		view:      notReady,
		frames:    []sendd.StreamFrame{{Active: true, View: &notReady}, {Active: true, View: &ready}},
		responses: []sendd.SubmitResponse{{Outcome: submission.OutcomeCompleted}},
	}
	prompt := &scriptedPrompt{answers: []bool{true}}
	var out bytes.Buffer

	require.NoError(t, runPay(context.Background(), api, prompt, "lnbc1", time.Second, &out))
	require.Contains(t, out.String(), "Waiting for node: chain")
}

func TestRunPayGivesUpWhenNeverReady(t *testing.T) {
	notReady := readyView()
	notReady.Ready = false
	api := &fakeAPI{view: notReady, frames: []sendd.StreamFrame{{Active: true, View: &notReady}}}
	var out bytes.Buffer

	err := runPay(context.Background(), api, &scriptedPrompt{}, "lnbc1", time.Second, &out)
	require.ErrorIs(t, err, errNotReady)
	require.Equal(t, 1, api.abandoned)
}

func TestPrintView(t *testing.T) {
	var out bytes.Buffer
	printView(&out, readyView())
	require.True(t, strings.HasPrefix(out.String(), "Confirm pay invoice\n"))
	require.Contains(t, out.String(), "Invoice")
}
