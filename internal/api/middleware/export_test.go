package middleware

var SetKeyPrefix = setKeyPrefix
