// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 claudegate 的配置加载。
//
// 优先级为默认值、YAML 文件、以 CLAUDEGATE_ 为前缀的环境变量。
// 未设置 CLAUDEGATE_ANTHROPIC_API_KEY 时回退到 ANTHROPIC_API_KEY。
// 配置在启动时加载一次，之后不可变。
package config
