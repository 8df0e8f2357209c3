// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 classify 把管道内部错误映射为对外安全的 types.SafeError。

# 概述

内部错误 types.Error 可能携带上游响应文本、URL 与底层原因，
只能写入服务端日志。Classifier 按 Kind 与 Reason 从固定消息表中
选出一条用户可见消息，同时输出一条结构化日志并累加一次指标。

RetryExhausted 使用最后一次失败的 Kind 选择消息；没有记录到失败的
耗尽视为缺陷，以 error 级别记录，对外报告未知错误。

# 核心类型

  - Classifier：分类器，持有 zap.Logger 与可选的 Recorder。
  - Recorder：错误计数接口，由 internal/metrics.Collector 实现。
  - Detail：随日志输出的请求上下文（request id、模型、耗时）。
*/
package classify
