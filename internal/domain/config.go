package domain

// KeyPrefix namespaces every key this service writes to Redis/Valkey.
const KeyPrefix = "ragflow:"
