package domain

import "testing"

func TestNewTradingSignal_Validation(t *testing.T) {
	tests := []struct {
		name       string
		sigType    SignalType
		symbol     string
		price      float64
		amount     float64
		confidence float64
		wantErr    bool
	}{
		{"valid buy", SignalBuy, "BTC", 50000, 0.1, 0.8, false},
		{"valid close", SignalCloseShort, "ETH", 3000, 1, 1.0, false},
		{"unknown type", SignalType("hold"), "BTC", 50000, 0.1, 0.5, true},
		{"empty symbol", SignalBuy, "", 50000, 0.1, 0.5, true},
		{"zero price", SignalBuy, "BTC", 0, 0.1, 0.5, true},
		{"negative amount", SignalSell, "BTC", 50000, -1, 0.5, true},
		{"confidence above one", SignalBuy, "BTC", 50000, 0.1, 1.1, true},
		{"negative confidence", SignalBuy, "BTC", 50000, 0.1, -0.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTradingSignal(tt.sigType, tt.symbol, tt.price, tt.amount, tt.confidence)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTradingSignal() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTradingSignal_OrderSide(t *testing.T) {
	cases := map[SignalType]OrderSide{
		SignalBuy:        OrderSideBid,
		SignalCloseShort: OrderSideBid,
		SignalSell:       OrderSideAsk,
		SignalCloseLong:  OrderSideAsk,
	}
	for sigType, want := range cases {
		s := &TradingSignal{Type: sigType}
		if got := s.OrderSide(); got != want {
			t.Errorf("%s: expected %s, got %s", sigType, want, got)
		}
	}
}

func TestTradingSignal_IsClosing(t *testing.T) {
	if (&TradingSignal{Type: SignalBuy}).IsClosing() {
		t.Error("buy must not be closing")
	}
	if !(&TradingSignal{Type: SignalCloseLong}).IsClosing() {
		t.Error("close_long must be closing")
	}
	if !(&TradingSignal{Type: SignalCloseShort}).IsClosing() {
		t.Error("close_short must be closing")
	}
}

func TestPosition_Notional(t *testing.T) {
	p := &Position{Amount: 2, EntryPrice: 100, CurrentPrice: 110}
	if got := p.Notional(); got != 220 {
		t.Errorf("expected notional from current price, got %f", got)
	}

	// Falls back to entry before the first mark
	p = &Position{Amount: 2, EntryPrice: 100}
	if got := p.Notional(); got != 200 {
		t.Errorf("expected notional from entry price, got %f", got)
	}
}
