package svc

import "errors"

// ErrNoAdaptersEnabled 错误：没有可用的券商适配器
var ErrNoAdaptersEnabled = errors.New("no broker adapters enabled")

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
