// Package artifact 实现构建缓存的协调协议：根据规格在根目录下查找已构建的
// artifact，找不到时分配新目录并调用注册的 Builder 构建。
//
// 目录创建是唯一的互斥原语：第一个成功创建目录的调用方负责构建并维护
// _meta.yaml 中的状态（running → done / stopped），其余调用方读取元数据并
// 轮询等待。两个调用方同时为相同规格创建两个不同的新目录时不做保护，各自
// 构建一次。
//
// 所有依赖（根目录、Builder 注册表、元数据存储、日志）都显式放在 Cache 上，
// 包内没有全局默认实例。
package artifact
