package core

// 版本与更新源配置
// Version 由发布流程通过 -ldflags 注入时会覆盖此默认值
const (
	RepoOwner = "covergen"
	RepoName  = "covergen"
)

var Version = "1.0.0"
