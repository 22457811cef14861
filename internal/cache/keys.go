package cache

import "fmt"

// Key layout:
// - flowKey(flowID):   online editors for a flow (ZSet<actorID, expireAtUnix>)
// - emailsKey(flowID): actorID -> email map for the same flow (Hash)
const (
	keyFlowFmt   = "presence:flow:{%s}"
	keyEmailsFmt = "presence:flow:emails:{%s}"
)

func flowKey(flowID string) string   { return fmt.Sprintf(keyFlowFmt, flowID) }
func emailsKey(flowID string) string { return fmt.Sprintf(keyEmailsFmt, flowID) }
