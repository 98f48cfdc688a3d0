package dictionary

import "fmt"

// AddAt is used only during WAL replay: it inserts v at the specific vid
// the original record was written with. Replay always reconstructs a
// store from empty, so records arrive in original allocation order and
// vid must equal the dictionary's current size; any other vid indicates
// a corrupt or reordered log and is rejected rather than silently
// leaving a gap.
func (d *OrderIndifferent) AddAt(v any, vid VID) error {
	if err := typeCheck(d.ct, v); err != nil {
		return err
	}
	cv := canonicalizeOI(d.ct, v)

	d.valuesMu.Lock()
	if int(vid) != len(d.values) {
		d.valuesMu.Unlock()
		return fmt.Errorf("dictionary: replay vid %d does not match next slot %d", vid, len(d.values))
	}
	d.values = append(d.values, cv)
	d.valuesMu.Unlock()

	s := d.stripeFor(cv)
	s.mu.Lock()
	s.index[cv] = vid
	s.mu.Unlock()
	return nil
}
