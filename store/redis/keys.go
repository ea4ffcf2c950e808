package redis

// Key layout. Everything lives under one prefix so multiple
// applications can share a Redis instance.
//
//	bgops:key:{key}          idempotency key record (JSON string, TTL)
//	bgops:key:index          ZSET key → expiry unix seconds
//	bgops:saga:{id}          saga record (JSON string)
//	bgops:saga:{id}:history  history log (RPUSH list)
//	bgops:op:{id}            operation tracking record (JSON string)
//	bgops:op:index           ZSET operation id → expiry unix seconds
//	bgops:lock:{key}         saga execution lock (SET NX, TTL)

const prefix = "bgops:"

func keyRecord(key string) string { return prefix + "key:" + key }

func sagaRecord(sagaID string) string { return prefix + "saga:" + sagaID }

func sagaHistory(sagaID string) string { return prefix + "saga:" + sagaID + ":history" }

func opRecord(opID string) string { return prefix + "op:" + opID }

func lockRecord(key string) string { return prefix + "lock:" + key }

const (
	keyIndex = prefix + "key:index"
	opIndex  = prefix + "op:index"
)
