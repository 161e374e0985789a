package svc

import "errors"

// ErrEmptyWhitelist 错误：没有可跟踪的交易所
var ErrEmptyWhitelist = errors.New("exchange whitelist is empty")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
