package clog

// Option 组件初始化选项函数
type Option func(*options)

// options 组件初始化选项配置（内部使用，小写）
type options struct {
	namespace []string
}

// WithNamespace 设置初始命名空间
//
// 使用示例:
//
//	logger, _ := clog.New(cfg, clog.WithNamespace("msgrelay", "server"))
func WithNamespace(parts ...string) Option {
	return func(o *options) {
		o.namespace = append(o.namespace, parts...)
	}
}
