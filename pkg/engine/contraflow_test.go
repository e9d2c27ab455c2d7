package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrabsha/tremor-runtime/pkg/event"
)

type recordingSource struct {
	tag      string
	insights []*event.Insight
}

func (r *recordingSource) Tag() string { return r.tag }

func (r *recordingSource) OnInsight(ins *event.Insight) {
	r.insights = append(r.insights, ins)
}

func TestDispatchCircuitInsightsBroadcast(t *testing.T) {
	a := &recordingSource{tag: "a"}
	b := &recordingSource{tag: "b"}
	sources := map[string]Source{"a": a, "b": b}

	dispatchInsight(sources, &event.Insight{Kind: event.InsightCircuitOpen})
	dispatchInsight(sources, &event.Insight{Kind: event.InsightCircuitClose})

	assert.Len(t, a.insights, 2)
	assert.Len(t, b.insights, 2)
}

func TestDispatchAckAddressesOrigins(t *testing.T) {
	a := &recordingSource{tag: "a"}
	b := &recordingSource{tag: "b"}
	c := &recordingSource{tag: "c"}
	sources := map[string]Source{"a": a, "b": b, "c": c}

	dispatchInsight(sources, &event.Insight{
		Kind: event.InsightAck,
		Origins: []event.ID{
			{Source: "a", Seq: 1},
			{Source: "b", Seq: 4},
			{Source: "a", Seq: 2},
		},
	})

	// a contributed twice but is notified once per insight.
	assert.Len(t, a.insights, 1)
	assert.Len(t, b.insights, 1)
	assert.Empty(t, c.insights)
}

func TestDispatchFailWithoutOriginsBroadcasts(t *testing.T) {
	a := &recordingSource{tag: "a"}
	b := &recordingSource{tag: "b"}
	sources := map[string]Source{"a": a, "b": b}

	dispatchInsight(sources, &event.Insight{Kind: event.InsightFail})

	assert.Len(t, a.insights, 1)
	assert.Len(t, b.insights, 1)
}

func TestDispatchUnknownOriginIsIgnored(t *testing.T) {
	a := &recordingSource{tag: "a"}
	sources := map[string]Source{"a": a}

	dispatchInsight(sources, &event.Insight{
		Kind:    event.InsightAck,
		Origins: []event.ID{{Source: "ghost", Seq: 1}},
	})
	assert.Empty(t, a.insights)

	dispatchInsight(sources, nil)
	assert.Empty(t, a.insights)
}
