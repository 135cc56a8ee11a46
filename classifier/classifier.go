// Package classifier implements component C: it turns a confirmed
// transaction plus the current live-deed snapshot into zero or more
// canvas.Event values, per the first-match-wins rules of §4.C.
package classifier

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/toole-brendan/plotproto/canvas"
	"github.com/toole-brendan/plotproto/opreturn"
)

// DeedValue is the exact output value, in base units (satoshis), that marks
// an output as a deed.
const DeedValue = 600

// DeedSet is the live-deed snapshot the classifier consults. canvas.State
// satisfies this interface directly.
type DeedSet interface {
	LiveDeed(op canvas.Outpoint) (canvas.PlotID, bool)
}

type spentDeed struct {
	outpoint canvas.Outpoint
	plot     canvas.PlotID
}

// Classify returns the events tx produces against deeds, per §4.C. A
// non-protocol transaction yields a nil slice. The classifier never errors:
// unparseable payloads and missing deed outputs simply steer the
// transaction toward a different rule, down to BRICK or non-protocol.
func Classify(tx *wire.MsgTx, deeds DeedSet, params *chaincfg.Params) []canvas.Event {
	var spent []spentDeed
	for _, in := range tx.TxIn {
		op := canvas.Outpoint{
			Hash:  in.PreviousOutPoint.Hash,
			Index: in.PreviousOutPoint.Index,
		}
		if plotID, ok := deeds.LiveDeed(op); ok {
			spent = append(spent, spentDeed{outpoint: op, plot: plotID})
		}
	}

	payload, parseable := soleOpReturnPayload(tx)
	var decoded *opreturn.Payload
	if parseable {
		if p, err := opreturn.Decode(payload); err == nil {
			decoded = p
		}
	}

	txid := tx.TxHash()

	switch len(spent) {
	case 0:
		return classifyUnspent(tx, txid, decoded, params)
	case 1:
		return classifySingleSpend(tx, txid, spent[0], decoded, params)
	default:
		return bricksFor(spent)
	}
}

// classifyUnspent handles rule 1 (CLAIM) and rule 6 (non-protocol) for
// transactions that spend no live deed.
func classifyUnspent(tx *wire.MsgTx, txid chainhash.Hash, decoded *opreturn.Payload, params *chaincfg.Params) []canvas.Event {
	if decoded == nil || decoded.Type != opreturn.TypeClaim {
		return nil
	}
	deedIdx, ok := firstDeedOutput(tx)
	if !ok {
		return nil
	}
	owner := addressFromOutput(tx, deedIdx, params)
	c := decoded.Claim
	return []canvas.Event{{
		Type:      canvas.EventClaim,
		PlotID:    txid,
		X0:        c.X0,
		Y0:        c.Y0,
		W:         c.Info.Width,
		H:         c.Info.Height,
		ImageHash: c.Info.ImageHash,
		URI:       c.URI,
		NewDeed:   canvas.Outpoint{Hash: txid, Index: deedIdx},
		NewOwner:  owner,
	}}
}

// classifySingleSpend handles rules 2-5 for a transaction spending exactly
// one live deed. Per the Open Question in §9, a payload that parses —
// even as the wrong type for rules 2/3 — always takes priority over the
// TRANSFER rule; such a tx falls through to BRICK via rule 5 instead of
// being treated as a TRANSFER.
func classifySingleSpend(tx *wire.MsgTx, txid chainhash.Hash, sd spentDeed, decoded *opreturn.Payload, params *chaincfg.Params) []canvas.Event {
	if decoded != nil && decoded.Type == opreturn.TypeRetryClaim {
		deedIdx, ok := firstDeedOutput(tx)
		if !ok {
			return bricksFor([]spentDeed{sd})
		}
		owner := addressFromOutput(tx, deedIdx, params)
		rc := decoded.RetryClaim
		return []canvas.Event{{
			Type:     canvas.EventRetryClaim,
			PlotID:   sd.plot,
			X0:       rc.X0,
			Y0:       rc.Y0,
			NewDeed:  canvas.Outpoint{Hash: txid, Index: deedIdx},
			NewOwner: owner,
		}}
	}

	if decoded != nil && decoded.Type == opreturn.TypeUpdate {
		deedIdx, ok := firstDeedOutput(tx)
		if !ok {
			return bricksFor([]spentDeed{sd})
		}
		owner := addressFromOutput(tx, deedIdx, params)
		u := decoded.Update
		return []canvas.Event{{
			Type:      canvas.EventUpdate,
			PlotID:    sd.plot,
			X0:        u.X0,
			Y0:        u.Y0,
			W:         u.Info.Width,
			H:         u.Info.Height,
			ImageHash: u.Info.ImageHash,
			URI:       u.URI,
			NewDeed:   canvas.Outpoint{Hash: txid, Index: deedIdx},
			NewOwner:  owner,
		}}
	}

	if decoded == nil {
		// No OP_RETURN, or one that failed to parse: candidate TRANSFER.
		if deedIdx, ok := firstDeedOutput(tx); ok {
			owner := addressFromOutput(tx, deedIdx, params)
			return []canvas.Event{{
				Type:     canvas.EventTransfer,
				PlotID:   sd.plot,
				NewDeed:  canvas.Outpoint{Hash: txid, Index: deedIdx},
				NewOwner: owner,
			}}
		}
	}

	// Either the payload parsed as something other than RETRY-CLAIM/UPDATE
	// (so it isn't eligible for TRANSFER either), or it didn't parse and
	// there was no 600-unit output to satisfy TRANSFER: rule 5, BRICK.
	return bricksFor([]spentDeed{sd})
}

func bricksFor(spent []spentDeed) []canvas.Event {
	events := make([]canvas.Event, 0, len(spent))
	seen := make(map[canvas.PlotID]bool, len(spent))
	for _, sd := range spent {
		if seen[sd.plot] {
			continue
		}
		seen[sd.plot] = true
		events = append(events, canvas.Event{Type: canvas.EventBrick, PlotID: sd.plot})
	}
	return events
}

// soleOpReturnPayload returns the data carried by tx's OP_RETURN output and
// true, but only if tx carries exactly one such output; otherwise (none or
// more than one) it returns false so the caller treats the tx as if it had
// no parseable payload.
func soleOpReturnPayload(tx *wire.MsgTx) ([]byte, bool) {
	var payload []byte
	count := 0
	for _, out := range tx.TxOut {
		if txscript.GetScriptClass(out.PkScript) != txscript.NullDataTy {
			continue
		}
		count++
		if count == 1 {
			data, err := txscript.PushedData(out.PkScript)
			if err == nil && len(data) == 1 {
				payload = data[0]
			}
		}
	}
	if count != 1 {
		return nil, false
	}
	return payload, true
}

// firstDeedOutput returns the index of the lowest-indexed output whose
// value is exactly DeedValue.
func firstDeedOutput(tx *wire.MsgTx) (uint32, bool) {
	for i, out := range tx.TxOut {
		if out.Value == DeedValue {
			return uint32(i), true
		}
	}
	return 0, false
}

// addressFromOutput decodes the owning address of tx's output at idx. An
// output whose script doesn't resolve to a single address (multisig,
// unparsable, etc.) yields the empty string rather than an error: address
// resolution is informational, never protocol-critical.
func addressFromOutput(tx *wire.MsgTx, idx uint32, params *chaincfg.Params) string {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(tx.TxOut[idx].PkScript, params)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].EncodeAddress()
}
