package lockguard

// AuditDelivered reports events handed to the sink so far. With
// audit.drop_if_full the gap to the number of emitted events is AuditDropped.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}
