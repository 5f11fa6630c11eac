package orders

import "strconv"

const (
	TopicOrderCreated   = "order.created"
	TopicOrderConfirmed = "order.confirmed"
	TopicOrderCanceled  = "order.canceled"
)

// Topics lists every lifecycle topic, in lifecycle order.
var Topics = []string{TopicOrderCreated, TopicOrderConfirmed, TopicOrderCanceled}

// Partition key = order id so events of one order keep their order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
