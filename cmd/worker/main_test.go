package main

import (
	"testing"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	_ "github.com/odyssey-erp/odyssey-stock/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatal("expected test mode")
	}
	main()
}
