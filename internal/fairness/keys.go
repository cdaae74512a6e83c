package fairness

import "strings"

// Key scheme, one triple per item plus a per-pair guard:
//
//	{prefix}:stock:{item}            counter, current stock
//	{prefix}:queue:{item}            ZSET, member=requester, score=arrival ms
//	{prefix}:guard:{item}:{requester} duplicate guard, PX = slot lifetime
//	{prefix}:warned:{item}:{requester} pre-expiry warning once-marker
//	{prefix}:items                   SET of items with seeded stock
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	return keys{prefix: strings.Trim(prefix, ":")}
}

func (k keys) stock(itemID string) string {
	return k.prefix + ":stock:" + itemID
}

func (k keys) queue(itemID string) string {
	return k.prefix + ":queue:" + itemID
}

func (k keys) guard(itemID, requesterID string) string {
	return k.prefix + ":guard:" + itemID + ":" + requesterID
}

func (k keys) warned(itemID, requesterID string) string {
	return k.prefix + ":warned:" + itemID + ":" + requesterID
}

func (k keys) itemIndex() string {
	return k.prefix + ":items"
}
