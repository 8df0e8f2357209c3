// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 把一次对话安全地送到 Anthropic Messages API，并把结果或
脱敏后的错误交还给宿主。

# 概述

[Pipeline] 依次运行四个阶段：

  - 规范化：claude.Normalizer 校验对话结构、图片大小与格式，并通过
    safeurl 审查图片 URL（SSRF 防护）
  - 执行：claude.Executor 在 retry.Policy 下发送请求，仅对可重试错误
    做指数退避
  - 解码：非流式一次性聚合，流式交给 claude.Decoder 按序产出事件
  - 分类：classify.Classifier 把内部错误映射为 [types.SafeError]

任何失败离开本包时都是 *types.SafeError，上游原文只写入日志。

# 流式

[Pipeline.Stream] 返回惰性的 [Stream]。Next 在终止事件后返回 io.EOF，
中途失败返回粘性错误，已交付的事件不会撤回。[Stream.Chan] 适配为
channel，供 SSE 与 WebSocket 处理器使用。调用方必须 Close。

# API Key

Key 在构造时固定。缺失或前缀不符不会让 [New] 失败，而是让每个请求在
任何网络活动之前返回 CONFIG_MISSING 或 AUTH_ERROR；[Pipeline.Ready]
供就绪探针使用。

# 可观测

[WithRecorder] 接入 Prometheus 采集器，[WithObservability] 接入
OpenTelemetry 的 span 与指标。请求 ID 取自 ctxkeys，缺省时生成 UUID。
*/
package llm
