// Package uicc tracks which SIM/eUICC card sits in which physical slot.
//
// The modem reports card and slot status asynchronously, out of order and
// sometimes with fields missing (older modems never put an EID in slot
// status). This package folds those reports into a stable model and gives
// every card a public card ID that survives restarts and card swaps.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                               Engine                                  │
//	│                                                                       │
//	│  events ──▶ queue ──▶ handle() ──▶ Registry (slots, ports, cards)     │
//	│                          │                                            │
//	│                          ├──▶ IdentityTable ──▶ IdentityStore (SQLite)│
//	│                          ├──▶ SelectDefaultEuicc                      │
//	│                          └──▶ Notifier ──▶ subscribers                │
//	└───────────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Engine: single-consumer event loop owning all slot state
//   - Registry: fixed-size arena of PhysicalSlot records
//   - IdentityTable: ICCID/EID to public card ID, persisted via IdentityStore
//   - Notifier: coalescing change notifications to subscribers
//   - Event: PowerChanged, CardStatusReceived, SlotStatusReceived, EidReady
//
// # Usage
//
//	store := uicc.NewSQLiteIdentityStore(db.DB)
//	ids := uicc.NewIdentityTable(store)
//	if err := ids.Load(ctx); err != nil {
//	    return err
//	}
//
//	engine, err := uicc.NewEngine(uicc.EngineOptions{
//	    SlotCount:            2,
//	    PhoneCount:           2,
//	    NonRemovableEuiccs:   []int{1},
//	    Identities:           ids,
//	    Radio:                modemBridge,
//	})
//	sub := engine.Subscribe(func(ev uicc.ChangeEvent) {
//	    log.Info("cards changed", "default_euicc", ev.DefaultEuiccCardID)
//	})
//	defer sub.Cancel()
//
//	go engine.Run(ctx)
//	engine.Post(uicc.PowerChanged{State: uicc.RadioOn})
//
// # Thread Safety
//
// Events are handled one at a time on the goroutine running Run, so
// handlers never race each other. Query methods may be called from any
// goroutine; they take a read lock and return copies.
package uicc
