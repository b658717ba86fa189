package events

import "testing"

func TestTradeEventKinds(t *testing.T) {
	issued := Trade{Mint: "acr", Account: "ramm1xyz", Price: 1_050_000_000, AmountIn: 2_100_000_000, AmountOut: 2_000_000_000}
	if issued.EventType() != TypeIssued {
		t.Fatalf("unexpected type %s", issued.EventType())
	}
	evt := issued.Event()
	if evt.Attributes["mint"] != "ACR" || evt.Attributes["amountOut"] != "2000000000" {
		t.Fatalf("unexpected attrs %+v", evt.Attributes)
	}
	if _, ok := evt.Attributes["bootstrap"]; ok {
		t.Fatalf("bootstrap attribute should be omitted")
	}

	redeemed := Trade{Kind: TypeRedeemed, Mint: "ACR", Bootstrap: true}
	if redeemed.Event().Type != TypeRedeemed || redeemed.Event().Attributes["bootstrap"] != "true" {
		t.Fatalf("unexpected redeem event %+v", redeemed.Event())
	}
}

func TestRenderFallsBackToType(t *testing.T) {
	rec := &Recorder{}
	Fanout{rec, NoopEmitter{}, nil}.Emit(Quoted{Redeem: true, Mint: "acr", Price: 1})
	got := rec.Events()
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	rendered := Render(got[0])
	if rendered.Type != TypeQuoteRedeem || rendered.Attributes["price"] != "1" {
		t.Fatalf("unexpected rendered event %+v", rendered)
	}
	if Render(bare{}).Type != "bare" {
		t.Fatalf("fallback render lost type")
	}
}

type bare struct{}

func (bare) EventType() string { return "bare" }
