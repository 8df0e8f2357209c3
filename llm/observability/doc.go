// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 提供代理管道的 OpenTelemetry 可观测性能力。

# 概述

每个管道请求对应一个 "claudegate.pipeline" span，规范化、上游调用
与解码各自是子 span。请求结束时统一记录结果、耗时、尝试次数与 token
用量。Provider 默认取 otel 全局对象，由 internal/telemetry 初始化。

# 核心类型

  - Metrics：持有 Tracer 与 Meter 上的计数器、直方图和活跃请求
    UpDownCounter。

# 主要能力

  - StartRequest / EndRequest：请求级 span 与指标。
  - StartStage：阶段子 span。
  - RecordRetry：重试计数并在当前 span 上追加事件。
  - RecordStreamEvent：流事件计数。
*/
package observability
